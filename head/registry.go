package head

import (
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/types"
)

// FactoryInfo is what the head knows about a registered factory.
type FactoryInfo struct {
	NodeID        string            `json:",omitempty"`
	Tags          map[string]string `json:",omitempty"`
	Scenarios     []string          `json:",omitempty"`
	RegisteredAt  time.Time         `json:",omitempty"`
	LastHeartbeat time.Time         `json:",omitempty"`
}

func (f *FactoryInfo) supports(scenario string) bool {
	for _, name := range f.Scenarios {
		if name == scenario {
			return true
		}
	}
	return false
}

// FactoryLostHook is called when a factory stops sending heartbeats or
// leaves.
type FactoryLostHook func(nodeID string)

// FactoryRegistry keeps the factories alive, as long as their heartbeats
// arrive in time.
type FactoryRegistry struct {
	factories *cache.Cache

	mu    sync.Mutex
	hooks []FactoryLostHook
}

func NewFactoryRegistry(timeout time.Duration) *FactoryRegistry {
	cleanup := timeout / 2
	if cleanup <= 0 {
		cleanup = time.Second
	}
	r := &FactoryRegistry{factories: cache.New(timeout, cleanup)}
	r.factories.OnEvicted(func(nodeID string, _ interface{}) {
		r.lost(nodeID)
	})
	return r
}

func (r *FactoryRegistry) OnLost(hook FactoryLostHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

func (r *FactoryRegistry) lost(nodeID string) {
	r.mu.Lock()
	hooks := append([]FactoryLostHook(nil), r.hooks...)
	r.mu.Unlock()

	log.WithField("node", nodeID).Warn("factory lost")
	for _, hook := range hooks {
		hook(nodeID)
	}
}

// Register adds or replaces the factory.
func (r *FactoryRegistry) Register(info *FactoryInfo) {
	now := time.Now()
	info.RegisteredAt = now
	info.LastHeartbeat = now
	r.factories.SetDefault(info.NodeID, info)
}

// Heartbeat keeps the factory alive. An offline factory is removed and
// considered lost.
func (r *FactoryRegistry) Heartbeat(heartbeat *types.Heartbeat) bool {
	value, exists := r.factories.Get(heartbeat.NodeID)
	if !exists {
		log.Debugf("heartbeat of unknown factory %s", heartbeat.NodeID)
		return false
	}
	if heartbeat.State == types.HeartbeatOffline {
		r.factories.Delete(heartbeat.NodeID)
		return true
	}

	refreshed := *value.(*FactoryInfo)
	refreshed.LastHeartbeat = time.Now()
	r.factories.SetDefault(heartbeat.NodeID, &refreshed)
	return true
}

func (r *FactoryRegistry) Get(nodeID string) (*FactoryInfo, bool) {
	value, exists := r.factories.Get(nodeID)
	if !exists {
		return nil, false
	}
	return value.(*FactoryInfo), true
}

// Factories returns the live factories, sorted by node ID.
func (r *FactoryRegistry) Factories() []*FactoryInfo {
	items := r.factories.Items()
	factories := make([]*FactoryInfo, 0, len(items))
	for _, item := range items {
		factories = append(factories, item.Object.(*FactoryInfo))
	}
	sort.Slice(factories, func(i, j int) bool { return factories[i].NodeID < factories[j].NodeID })
	return factories
}

// FactoriesFor returns the node IDs of the live factories supporting the
// scenario, sorted.
func (r *FactoryRegistry) FactoriesFor(scenario string) []string {
	var nodes []string
	for _, factory := range r.Factories() {
		if factory.supports(scenario) {
			nodes = append(nodes, factory.NodeID)
		}
	}
	return nodes
}
