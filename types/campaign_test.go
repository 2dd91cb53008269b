package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignMinionsCount(t *testing.T) {
	s1 := &ScenarioSummary{Name: "s1", MinionsCount: 10}
	s2 := &ScenarioSummary{Name: "s2", MinionsCount: 3}

	campaign := &Campaign{
		Key:                     "c1",
		MinionsCountPerScenario: map[string]int{"s1": 4},
		MinionsCountFactor:      1.5,
	}
	assert.Equal(t, 4, campaign.MinionsCount(s1))
	assert.Equal(t, 5, campaign.MinionsCount(s2))

	// no factor behaves as a factor of 1
	assert.Equal(t, 3, (&Campaign{}).MinionsCount(s2))
}

func TestFeedbackStatus(t *testing.T) {
	assert.False(t, FeedbackInProgress.IsDone())
	assert.True(t, FeedbackCompleted.IsDone())
	assert.True(t, FeedbackFailed.IsDone())
	assert.True(t, FeedbackIgnored.IsDone())
	assert.Equal(t, "IN_PROGRESS", FeedbackInProgress.String())
	assert.Equal(t, "IGNORED", FeedbackIgnored.String())
}

func TestErrorsClassification(t *testing.T) {
	timeout := NewTimeoutError("step-1", 0)
	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsAssertion(timeout))

	assertion := NewAssertionErrorf("expected %d", 200)
	assert.True(t, IsAssertion(assertion))
	assert.Equal(t, "expected 200", assertion.Error())

	stepErr := NewStepError("step-2", assertion)
	assert.Equal(t, "step-2", stepErr.StepName)
	assert.True(t, IsAssertion(stepErr))
}
