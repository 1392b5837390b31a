package debate

import (
	"context"
	"errors"
	"time"
)

// Reader is the read side of the store. Store reads see committed data;
// Tx reads see the transaction's own writes.
type Reader interface {
	GetDebate(ctx context.Context, debateID string) (Debate, error)
	ListDebates(ctx context.Context, filter ListFilter) ([]Debate, int, error)
	GetArgument(ctx context.Context, argumentID string) (Argument, error)
	// GetArguments returns the first limit arguments by seq; limit <= 0
	// means all of them.
	GetArguments(ctx context.Context, debateID string, limit int) ([]Argument, error)
	// GetRecentArguments returns the last limit arguments in ascending seq.
	GetRecentArguments(ctx context.Context, debateID string, limit int) ([]Argument, error)
	GetRecentArgumentsExcludingMotion(ctx context.Context, debateID string, limit int) ([]Argument, error)
	GetArgumentsAfter(ctx context.Context, debateID string, afterSeq int64) ([]Argument, error)
	GetMotion(ctx context.Context, debateID string) (Argument, error)
	GetLatestArgument(ctx context.Context, debateID string) (Argument, bool, error)
	FindArgumentByClientRequestID(ctx context.Context, debateID, clientRequestID string) (Argument, bool, error)
}

type Tx interface {
	Reader
	// LockDebate takes the store-level write lock for one debate, for
	// backends whose transactions do not already serialize writers.
	LockDebate(ctx context.Context, debateID string) error
	InsertDebate(ctx context.Context, debate Debate) error
	DeleteDebate(ctx context.Context, debateID string) error
	// GetNextSeq must be read in the same transaction as the insert that
	// uses it.
	GetNextSeq(ctx context.Context, debateID string) (int64, error)
	InsertArgument(ctx context.Context, argument Argument) error
	UpdateDebateState(ctx context.Context, debateID string, state State, updatedAt time.Time) error
}

type Store interface {
	Reader
	// WithTx runs fn in an immediate-mode transaction, committing when fn
	// returns nil and rolling back otherwise. Lock contention is reported
	// as an error wrapping ErrStoreBusy.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Backend() string
	Close() error
}

// RetryPolicy bounds the busy-retry loop around store transactions.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 7, BaseDelay: 10 * time.Millisecond}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// RetryBusy reruns fn while it fails with ErrStoreBusy, waiting
// BaseDelay*2^(attempt-1) before retry number attempt. Any other outcome is
// returned immediately.
func RetryBusy(ctx context.Context, policy RetryPolicy, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrStoreBusy) || attempt > policy.MaxRetries {
			return err
		}
		if waitErr := waitWithContext(ctx, policy.delay(attempt)); waitErr != nil {
			return err
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
