package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"choreline/internal/domain"
	"choreline/internal/resolver"
)

func res(pairs ...string) []resolver.Resolution {
	var out []resolver.Resolution
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, resolver.Resolution{AssigneeID: pairs[i], State: domain.State(pairs[i+1])})
	}
	return out
}

func TestPrecedence(t *testing.T) {
	c := domain.Chore{Completion: domain.CompletionIndependent, Rotation: domain.RotationNone}

	assert.Equal(t, domain.StateApproved, Aggregate(c, "", res("a", "approved", "b", "claimed")).Status)
	assert.Equal(t, domain.StateClaimed, Aggregate(c, "", res("a", "overdue", "b", "claimed")).Status)
	assert.Equal(t, domain.StateOverdue, Aggregate(c, "", res("a", "overdue", "b", "missed", "c", "due")).Status)
	assert.Equal(t, domain.StateDue, Aggregate(c, "", res("a", "pending", "b", "due")).Status)
}

func TestSharedFirstApproval(t *testing.T) {
	c := domain.Chore{Completion: domain.CompletionSharedFirst, Rotation: domain.RotationNone}
	sum := Aggregate(c, "", res("a", "approved", "b", "approved"))
	assert.Equal(t, domain.StateApproved, sum.Status)
	assert.Equal(t, 2, sum.Approved)
}

func TestSharedAllNeedsEveryone(t *testing.T) {
	c := domain.Chore{Completion: domain.CompletionSharedAll, Rotation: domain.RotationNone}

	assert.Equal(t, domain.StateDue, Aggregate(c, "", res("a", "approved", "b", "due")).Status)
	assert.Equal(t, domain.StateClaimed, Aggregate(c, "", res("a", "approved", "b", "claimed")).Status)
	assert.Equal(t, domain.StateApproved, Aggregate(c, "", res("a", "approved", "b", "approved")).Status)
}

func TestRotationUsesHolderOnly(t *testing.T) {
	c := domain.Chore{Completion: domain.CompletionIndependent, Rotation: domain.RotationSimple}
	sum := Aggregate(c, "b", res("a", "not_my_turn", "b", "pending", "c", "not_my_turn"))
	assert.Equal(t, domain.StatePending, sum.Status)
	assert.Equal(t, "b", sum.Holder)
}
