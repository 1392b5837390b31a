package debate

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WaitRequest struct {
	DebateID           string
	LastSeenArgumentID string
	Role               Role
	// Timeout of zero uses the service's poll timeout.
	Timeout time.Duration
}

// WaitResult is either a new argument (HasNewArgument) with the action the
// waiter should take, or a timeout echoing the cursor back.
type WaitResult struct {
	HasNewArgument bool       `json:"has_new_argument"`
	Action         WaitAction `json:"action,omitempty"`
	DebateState    State      `json:"debate_state,omitempty"`
	Argument       *Argument  `json:"argument,omitempty"`
	DebateID       string     `json:"debate_id,omitempty"`
	LastSeenSeq    *int64     `json:"last_seen_seq,omitempty"`
}

// WaitForResponse long-polls for an argument newer than the cursor. The
// waiter registers before its final check so a commit racing with the check
// still wakes it. A timeout is a normal result, not an error.
func (s *Service) WaitForResponse(ctx context.Context, req WaitRequest) (WaitResult, error) {
	req.DebateID = strings.TrimSpace(req.DebateID)
	req.LastSeenArgumentID = strings.TrimSpace(req.LastSeenArgumentID)
	if req.DebateID == "" {
		return WaitResult{}, invalidInput("debate_id is required")
	}
	if req.Role != RoleProposer && req.Role != RoleOpponent {
		return WaitResult{}, invalidInput("role must be proposer or opponent")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.PollTimeout
	}

	ctx, span := s.tracer.Start(ctx, "debate.wait_for_response", trace.WithAttributes(
		attribute.String("debate.id", req.DebateID),
		attribute.String("debate.role", string(req.Role)),
	))
	defer span.End()

	if _, err := s.GetDebate(ctx, req.DebateID); err != nil {
		return WaitResult{}, err
	}
	var lastSeen *int64
	if req.LastSeenArgumentID != "" {
		cursor, err := s.store.GetArgument(ctx, req.LastSeenArgumentID)
		if errors.Is(err, ErrNotFound) {
			return WaitResult{}, argumentNotFound(req.LastSeenArgumentID)
		}
		if err != nil {
			return WaitResult{}, err
		}
		if cursor.DebateID != req.DebateID {
			return WaitResult{}, invalidInput("Argument %s does not belong to debate %s", req.LastSeenArgumentID, req.DebateID)
		}
		seq := cursor.Seq
		lastSeen = &seq
	}

	if result, ok, err := s.checkNewer(ctx, req, lastSeen); err != nil || ok {
		return result, err
	}

	deadline := time.Now().Add(timeout)
	for {
		waiter := s.coordinator.Register(req.DebateID)
		result, ok, err := s.checkNewer(ctx, req, lastSeen)
		if err != nil || ok {
			waiter.Cancel()
			return result, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			waiter.Cancel()
			break
		}
		if !waiter.Wait(ctx, remaining) {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return WaitResult{}, err
	}

	result, ok, err := s.checkNewer(ctx, req, lastSeen)
	if err != nil || ok {
		return result, err
	}
	span.SetAttributes(attribute.Bool("debate.timed_out", true))
	return WaitResult{HasNewArgument: false, DebateID: req.DebateID, LastSeenSeq: lastSeen}, nil
}

func (s *Service) checkNewer(ctx context.Context, req WaitRequest, lastSeen *int64) (WaitResult, bool, error) {
	latest, found, err := s.store.GetLatestArgument(ctx, req.DebateID)
	if err != nil {
		return WaitResult{}, false, err
	}
	if !found {
		// Arguments only disappear with their debate.
		if _, err := s.GetDebate(ctx, req.DebateID); err != nil {
			return WaitResult{}, false, err
		}
		return WaitResult{}, false, nil
	}
	if lastSeen != nil && latest.Seq <= *lastSeen {
		return WaitResult{}, false, nil
	}
	debate, err := s.GetDebate(ctx, req.DebateID)
	if err != nil {
		return WaitResult{}, false, err
	}
	return WaitResult{
		HasNewArgument: true,
		Action:         DeriveWaitAction(debate.State, latest.Type, latest.Role, req.Role),
		DebateState:    debate.State,
		Argument:       &latest,
	}, true, nil
}
