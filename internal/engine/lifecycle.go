package engine

import (
	"context"

	"choreline/internal/domain"
	"choreline/internal/resolver"
)

// ApproveResult describes the outcome of an approval. AlreadyApproved is set
// when the claim had been consumed by an earlier approval.
type ApproveResult struct {
	Resolution      resolver.Resolution `json:"resolution"`
	AlreadyApproved bool                `json:"already_approved"`
}

func (e Engine) Claim(ctx context.Context, choreID, assigneeID, actorID string) (resolver.Resolution, error) {
	var out resolver.Resolution
	err := e.Mutate(ctx, choreID, assigneeID, func(tx *Tx) error {
		res := tx.Resolve(assigneeID)
		if !res.Claimable {
			return &NotClaimableError{State: res.State, LockReason: res.LockReason}
		}
		now := tx.Now()
		inst := tx.Instance(assigneeID)
		inst.HasPendingClaim = true
		inst.LastClaimedAt = &now
		tx.Put(inst)
		tx.Emit(domain.Event{Type: domain.EventClaimed, AssigneeID: assigneeID, ActorID: actorOr(actorID, assigneeID)})
		out = tx.Resolve(assigneeID)
		return nil
	})
	return out, err
}

func (e Engine) Approve(ctx context.Context, choreID, assigneeID, approverID string) (ApproveResult, error) {
	var out ApproveResult
	err := e.Mutate(ctx, choreID, assigneeID, func(tx *Tx) error {
		inst := tx.Instance(assigneeID)
		if !inst.HasPendingClaim && claimConsumed(inst) {
			out.AlreadyApproved = true
			out.Resolution = tx.Resolve(assigneeID)
			return nil
		}
		if err := tx.Approve(assigneeID, approverID); err != nil {
			return err
		}
		out.Resolution = tx.Resolve(assigneeID)
		return nil
	})
	if err == nil && out.AlreadyApproved {
		e.Logger.Info().Str("chore", choreID).Str("assignee", assigneeID).Str("actor", approverID).
			Msg("claim already approved; ignoring duplicate approval")
	}
	return out, err
}

func (e Engine) Reject(ctx context.Context, choreID, assigneeID, approverID string) (resolver.Resolution, error) {
	var out resolver.Resolution
	err := e.Mutate(ctx, choreID, assigneeID, func(tx *Tx) error {
		inst := tx.Instance(assigneeID)
		if !inst.HasPendingClaim {
			return ErrNoPendingClaim
		}
		inst.HasPendingClaim = false
		tx.Put(inst)
		tx.Emit(domain.Event{Type: domain.EventRejected, AssigneeID: assigneeID, ActorID: approverID})
		out = tx.Resolve(assigneeID)
		return nil
	})
	return out, err
}

// claimConsumed reports whether the latest claim was already turned into an
// approval.
func claimConsumed(inst domain.Instance) bool {
	if inst.LastApprovedAt == nil || inst.LastClaimedAt == nil {
		return false
	}
	return !inst.LastApprovedAt.Before(*inst.LastClaimedAt)
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}
