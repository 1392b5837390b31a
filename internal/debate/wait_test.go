package debate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyWhenNewer(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")
	claim := submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")

	result, err := service.WaitForResponse(context.Background(), WaitRequest{
		DebateID:           "d1",
		LastSeenArgumentID: created.Argument.ID,
		Role:               RoleProposer,
		Timeout:            time.Second,
	})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !result.HasNewArgument || result.Argument == nil || result.Argument.ID != claim.Argument.ID {
		t.Fatalf("expected claim %s, got %+v", claim.Argument.ID, result)
	}
	if result.Action != WaitRespond || result.DebateState != StateAwaitingProposer {
		t.Fatalf("expected respond in %s, got %s in %s", StateAwaitingProposer, result.Action, result.DebateState)
	}
}

func TestWaitWithoutCursorReturnsLatest(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")

	result, err := service.WaitForResponse(context.Background(), WaitRequest{DebateID: "d1", Role: RoleOpponent})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !result.HasNewArgument || result.Argument.ID != created.Argument.ID {
		t.Fatalf("expected motion as latest, got %+v", result)
	}
}

func TestWaitTimesOutWithCursorEcho(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")

	start := time.Now()
	result, err := service.WaitForResponse(context.Background(), WaitRequest{
		DebateID:           "d1",
		LastSeenArgumentID: created.Argument.ID,
		Role:               RoleProposer,
		Timeout:            50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if result.HasNewArgument {
		t.Fatalf("expected no new argument, got %+v", result)
	}
	if result.DebateID != "d1" || result.LastSeenSeq == nil || *result.LastSeenSeq != 1 {
		t.Fatalf("expected cursor echo, got %+v", result)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected to wait about the timeout, waited %s", elapsed)
	}
	if stats := service.Coordinator().Stats(); stats.Waiters != 0 {
		t.Fatalf("expected waiter to be cleaned up, got %+v", stats)
	}
}

func TestWaitWakesOnCommit(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")

	type outcome struct {
		result WaitResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := service.WaitForResponse(context.Background(), WaitRequest{
			DebateID:           "d1",
			LastSeenArgumentID: created.Argument.ID,
			Role:               RoleProposer,
			Timeout:            5 * time.Second,
		})
		done <- outcome{result, err}
	}()
	waitFor(t, func() bool { return service.Coordinator().Stats().Waiters == 1 })

	claim := submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")
	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("wait failed: %v", got.err)
		}
		if !got.result.HasNewArgument || got.result.Argument.ID != claim.Argument.ID {
			t.Fatalf("expected woken waiter to see claim, got %+v", got.result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter was not woken by commit")
	}
}

func TestWaitActionAfterClosingRuling(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := createTestDebate(t, service, "d1")
	if _, err := service.SubmitIntervention(ctx, SubmitInterventionInput{DebateID: "d1", Content: "stop"}); err != nil {
		t.Fatalf("intervention failed: %v", err)
	}
	if _, err := service.SubmitRuling(ctx, SubmitRulingInput{DebateID: "d1", Content: "done", Close: true}); err != nil {
		t.Fatalf("ruling failed: %v", err)
	}
	result, err := service.WaitForResponse(ctx, WaitRequest{DebateID: "d1", LastSeenArgumentID: created.Argument.ID, Role: RoleOpponent})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if result.Action != WaitDebateClosed || result.DebateState != StateClosed {
		t.Fatalf("expected debate_closed, got %+v", result)
	}
}

func TestWaitValidation(t *testing.T) {
	service := newTestService(t)
	createTestDebate(t, service, "d1")
	other := createTestDebate(t, service, "d2")
	ctx := context.Background()

	var apiErr *Error
	if _, err := service.WaitForResponse(ctx, WaitRequest{DebateID: "missing", Role: RoleProposer}); !errors.As(err, &apiErr) || apiErr.Code != CodeDebateNotFound {
		t.Fatalf("expected debate not found, got %v", err)
	}
	if _, err := service.WaitForResponse(ctx, WaitRequest{DebateID: "d1", Role: RoleArbitrator}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected arbitrator waiter to be rejected, got %v", err)
	}
	if _, err := service.WaitForResponse(ctx, WaitRequest{DebateID: "d1", LastSeenArgumentID: "nope", Role: RoleProposer}); !errors.As(err, &apiErr) || apiErr.Code != CodeArgumentNotFound {
		t.Fatalf("expected argument not found, got %v", err)
	}
	if _, err := service.WaitForResponse(ctx, WaitRequest{DebateID: "d1", LastSeenArgumentID: other.Argument.ID, Role: RoleProposer}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected foreign cursor to be rejected, got %v", err)
	}
}

func TestWaitSeesDeletion(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")

	done := make(chan error, 1)
	go func() {
		_, err := service.WaitForResponse(context.Background(), WaitRequest{
			DebateID:           "d1",
			LastSeenArgumentID: created.Argument.ID,
			Role:               RoleOpponent,
			Timeout:            5 * time.Second,
		})
		done <- err
	}()
	waitFor(t, func() bool { return service.Coordinator().Stats().Waiters == 1 })
	if err := service.DeleteDebate(context.Background(), "d1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found after deletion, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter was not woken by deletion")
	}
}
