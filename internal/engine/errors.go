package engine

import (
	"errors"
	"fmt"

	"choreline/internal/domain"
)

var (
	ErrNotAssigned    = errors.New("assignee is not assigned to this chore")
	ErrNoPendingClaim = errors.New("no pending claim")
	ErrInvalidChore   = errors.New("invalid chore")
	// ErrLocked is returned by TryMutate when another operation holds the lock.
	ErrLocked = errors.New("chore is locked by another operation")

	errRelock = errors.New("lock scope changed")
)

// NotClaimableError reports the state that refused a claim.
type NotClaimableError struct {
	State      domain.State
	LockReason domain.LockReason
}

func (e *NotClaimableError) Error() string {
	if e.LockReason != domain.LockNone {
		return fmt.Sprintf("chore is not claimable: %s (%s)", e.State, e.LockReason)
	}
	return fmt.Sprintf("chore is not claimable: %s", e.State)
}
