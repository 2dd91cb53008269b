package types

type CampaignStatus int32

const (
	Created          CampaignStatus = 0
	MinionsPreparing CampaignStatus = 1
	MinionsAssigned  CampaignStatus = 2
	WarmedUp         CampaignStatus = 3
	RampingUp        CampaignStatus = 4
	Running          CampaignStatus = 5
	ShuttingDown     CampaignStatus = 6
	Complete         CampaignStatus = 9
	Aborted          CampaignStatus = 10
)

func (s CampaignStatus) String() string {
	switch s {
	case Created:
		return "CREATED"
	case MinionsPreparing:
		return "MINIONS_PREPARING"
	case MinionsAssigned:
		return "MINIONS_ASSIGNED"
	case WarmedUp:
		return "WARMED_UP"
	case RampingUp:
		return "RAMPING_UP"
	case Running:
		return "RUNNING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Complete:
		return "COMPLETE"
	case Aborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// IsTerminal reports whether the campaign can not change status anymore.
func (s CampaignStatus) IsTerminal() bool {
	return s == Complete || s == Aborted
}
