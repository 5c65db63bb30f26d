package workflows_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JaimeStill/concord/internal/workflows"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to workflows.Status
		allowed  bool
	}{
		{workflows.StatusPending, workflows.StatusInProgress, true},
		{workflows.StatusPending, workflows.StatusCompleted, false},
		{workflows.StatusInProgress, workflows.StatusCompleted, true},
		{workflows.StatusInProgress, workflows.StatusConsensusReached, true},
		{workflows.StatusInProgress, workflows.StatusDisputed, true},
		{workflows.StatusInProgress, workflows.StatusPending, false},
		{workflows.StatusDisputed, workflows.StatusConsensusReached, true},
		{workflows.StatusDisputed, workflows.StatusCompleted, true},
		{workflows.StatusDisputed, workflows.StatusInProgress, false},
		{workflows.StatusCompleted, workflows.StatusDisputed, false},
		{workflows.StatusConsensusReached, workflows.StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, workflows.CanTransition(tt.from, tt.to))

			err := workflows.ValidateTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, workflows.ErrInvalidTransition)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, workflows.StatusCompleted.Terminal())
	assert.True(t, workflows.StatusConsensusReached.Terminal())
	assert.False(t, workflows.StatusDisputed.Terminal())
	assert.False(t, workflows.StatusPending.Terminal())
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{workflows.ErrWorkflowNotFound, 404},
		{workflows.ErrReviewerNotFound, 404},
		{workflows.ErrDuplicateAssignment, 409},
		{workflows.ErrAlreadySubmitted, 409},
		{workflows.ErrInvalidStatus, 409},
		{workflows.ErrInvalidRole, 400},
		{workflows.ErrInvalidVote, 400},
		{workflows.ErrInsufficientData, 422},
		{assert.AnError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, workflows.MapHTTPStatus(tt.err))
		})
	}
}
