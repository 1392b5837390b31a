package debate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := OpenMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("open memory store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, NewCoordinator(), ServiceOptions{PollTimeout: 200 * time.Millisecond})
}

func createTestDebate(t *testing.T, service *Service, debateID string) Result {
	t.Helper()
	result, err := service.CreateDebate(context.Background(), CreateDebateInput{
		DebateID:        debateID,
		Title:           "Tabs or spaces",
		DebateType:      "technical",
		MotionContent:   "Tabs are better",
		ClientRequestID: "create-" + debateID,
	})
	if err != nil {
		t.Fatalf("create debate failed: %v", err)
	}
	return result
}

func submitOpponentClaim(t *testing.T, service *Service, debateID, targetID, token string) Result {
	t.Helper()
	result, err := service.SubmitClaim(context.Background(), SubmitClaimInput{
		DebateID:        debateID,
		Role:            RoleOpponent,
		TargetID:        targetID,
		Content:         "Spaces render the same everywhere",
		ClientRequestID: token,
	})
	if err != nil {
		t.Fatalf("submit claim failed: %v", err)
	}
	return result
}

type recordingObserver struct {
	mu        sync.Mutex
	committed []Argument
	deleted   []string
}

func (o *recordingObserver) ArgumentCommitted(_ context.Context, _ Debate, argument Argument) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed = append(o.committed, argument)
}

func (o *recordingObserver) DebateDeleted(_ context.Context, debateID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, debateID)
}

func (o *recordingObserver) seqs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int64, 0, len(o.committed))
	for _, argument := range o.committed {
		out = append(out, argument.Seq)
	}
	return out
}

func TestCreateDebateStoresMotion(t *testing.T) {
	service := newTestService(t)
	result := createTestDebate(t, service, "d1")
	if result.Debate.State != StateAwaitingOpponent {
		t.Fatalf("expected %s, got %s", StateAwaitingOpponent, result.Debate.State)
	}
	if result.Argument.Type != ArgumentMotion || result.Argument.Role != RoleProposer || result.Argument.Seq != 1 {
		t.Fatalf("unexpected motion: %+v", result.Argument)
	}
	if result.Argument.ParentID != nil {
		t.Fatalf("expected motion without parent")
	}

	view, err := service.GetDebateWithArguments(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("get debate failed: %v", err)
	}
	if view.Motion == nil || view.Motion.ID != result.Argument.ID {
		t.Fatalf("expected motion in view, got %+v", view.Motion)
	}
	if len(view.Arguments) != 0 {
		t.Fatalf("expected no non-motion arguments, got %d", len(view.Arguments))
	}
}

func TestCreateDebateIsIdempotent(t *testing.T) {
	service := newTestService(t)
	first := createTestDebate(t, service, "d1")
	second := createTestDebate(t, service, "d1")
	if first.Argument.ID != second.Argument.ID {
		t.Fatalf("expected replayed motion %s, got %s", first.Argument.ID, second.Argument.ID)
	}

	_, err := service.CreateDebate(context.Background(), CreateDebateInput{
		DebateID:        "d1",
		Title:           "Other",
		DebateType:      "technical",
		MotionContent:   "Other motion",
		ClientRequestID: "different",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for conflicting create, got %v", err)
	}
}

func TestCreateDebateValidatesInput(t *testing.T) {
	service := newTestService(t)
	cases := []CreateDebateInput{
		{Title: "t", DebateType: "x", MotionContent: "m", ClientRequestID: "r"},
		{DebateID: "d", DebateType: "x", MotionContent: "m", ClientRequestID: "r"},
		{DebateID: "d", Title: "t", MotionContent: "m", ClientRequestID: "r"},
		{DebateID: "d", Title: "t", DebateType: "x", ClientRequestID: "r"},
		{DebateID: "d", Title: "t", DebateType: "x", MotionContent: "m"},
	}
	for i, input := range cases {
		if _, err := service.CreateDebate(context.Background(), input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestScenarioClaimReplay(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")

	first := submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")
	if first.Argument.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", first.Argument.Seq)
	}
	if first.Debate.State != StateAwaitingProposer {
		t.Fatalf("expected %s, got %s", StateAwaitingProposer, first.Debate.State)
	}
	if first.Argument.ParentID == nil || *first.Argument.ParentID != created.Argument.ID {
		t.Fatalf("expected parent %s, got %v", created.Argument.ID, first.Argument.ParentID)
	}

	replayed := submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")
	if replayed.Argument.ID != first.Argument.ID || replayed.Argument.Seq != 2 {
		t.Fatalf("expected replay of %s, got %+v", first.Argument.ID, replayed.Argument)
	}

	arguments, err := service.Store().GetArguments(context.Background(), "d1", 0)
	if err != nil {
		t.Fatalf("get arguments failed: %v", err)
	}
	if len(arguments) != 2 {
		t.Fatalf("expected 2 arguments after replay, got %d", len(arguments))
	}
}

func TestSubmitRejectsWrongTurn(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")

	_, err := service.SubmitClaim(context.Background(), SubmitClaimInput{
		DebateID:        "d1",
		Role:            RoleProposer,
		TargetID:        created.Argument.ID,
		Content:         "me again",
		ClientRequestID: "p1",
	})
	if !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("expected action not allowed, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Fields["current_state"] != StateAwaitingOpponent {
		t.Fatalf("expected current_state in error, got %+v", apiErr)
	}

	_, err = service.SubmitAppeal(context.Background(), TargetedInput{
		DebateID:        "d1",
		TargetID:        created.Argument.ID,
		Content:         "appeal",
		ClientRequestID: "a1",
	})
	if !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("expected action not allowed for early appeal, got %v", err)
	}
}

func TestSubmitValidatesTargetsAndDebate(t *testing.T) {
	service := newTestService(t)
	createTestDebate(t, service, "d1")
	other := createTestDebate(t, service, "d2")

	_, err := service.SubmitClaim(context.Background(), SubmitClaimInput{
		DebateID: "missing", Role: RoleOpponent, TargetID: "x", Content: "c", ClientRequestID: "r",
	})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeDebateNotFound {
		t.Fatalf("expected debate not found, got %v", err)
	}

	_, err = service.SubmitClaim(context.Background(), SubmitClaimInput{
		DebateID: "d1", Role: RoleOpponent, TargetID: "nope", Content: "c", ClientRequestID: "r",
	})
	if !errors.As(err, &apiErr) || apiErr.Code != CodeArgumentNotFound {
		t.Fatalf("expected argument not found, got %v", err)
	}

	_, err = service.SubmitClaim(context.Background(), SubmitClaimInput{
		DebateID: "d1", Role: RoleOpponent, TargetID: other.Argument.ID, Content: "c", ClientRequestID: "r",
	})
	if !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "does not belong") {
		t.Fatalf("expected cross-debate target to be rejected, got %v", err)
	}

	_, err = service.SubmitClaim(context.Background(), SubmitClaimInput{
		DebateID: "d1", Role: RoleArbitrator, TargetID: other.Argument.ID, Content: "c", ClientRequestID: "r",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected arbitrator claim to be invalid, got %v", err)
	}
}

func TestContentLengthIsCountedInCharacters(t *testing.T) {
	store, err := OpenMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("open memory store failed: %v", err)
	}
	defer store.Close()
	service := NewService(store, nil, ServiceOptions{MaxContentLength: 4})

	_, err = service.CreateDebate(context.Background(), CreateDebateInput{
		DebateID: "d1", Title: "t", DebateType: "x", MotionContent: "日本語です", ClientRequestID: "r",
	})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeContentTooLarge || apiErr.Fields["max_length"] != 4 {
		t.Fatalf("expected content too large with max_length, got %v", err)
	}

	if _, err := service.CreateDebate(context.Background(), CreateDebateInput{
		DebateID: "d1", Title: "t", DebateType: "x", MotionContent: "日本語で", ClientRequestID: "r",
	}); err != nil {
		t.Fatalf("expected four characters to be accepted, got %v", err)
	}
}

func TestRulingCloseEndsDebate(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := createTestDebate(t, service, "d1")
	claim := submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")

	appeal, err := service.SubmitAppeal(ctx, TargetedInput{
		DebateID: "d1", TargetID: claim.Argument.ID, Content: "unfair", ClientRequestID: "a1",
	})
	if err != nil {
		t.Fatalf("appeal failed: %v", err)
	}
	if appeal.Debate.State != StateAwaitingArbitrator {
		t.Fatalf("expected %s, got %s", StateAwaitingArbitrator, appeal.Debate.State)
	}

	ruling, err := service.SubmitRuling(ctx, SubmitRulingInput{DebateID: "d1", Content: "proposer wins", Close: true})
	if err != nil {
		t.Fatalf("ruling failed: %v", err)
	}
	if ruling.Debate.State != StateClosed {
		t.Fatalf("expected %s, got %s", StateClosed, ruling.Debate.State)
	}

	attempts := []func() error{
		func() error {
			_, err := service.SubmitClaim(ctx, SubmitClaimInput{DebateID: "d1", Role: RoleProposer, TargetID: claim.Argument.ID, Content: "x", ClientRequestID: "x1"})
			return err
		},
		func() error {
			_, err := service.SubmitClaim(ctx, SubmitClaimInput{DebateID: "d1", Role: RoleOpponent, TargetID: claim.Argument.ID, Content: "x", ClientRequestID: "x2"})
			return err
		},
		func() error {
			_, err := service.SubmitIntervention(ctx, SubmitInterventionInput{DebateID: "d1", Content: "x"})
			return err
		},
		func() error {
			_, err := service.SubmitRuling(ctx, SubmitRulingInput{DebateID: "d1", Content: "x"})
			return err
		},
	}
	for i, attempt := range attempts {
		err := attempt()
		if !errors.Is(err, ErrActionNotAllowed) {
			t.Fatalf("attempt %d: expected action not allowed, got %v", i, err)
		}
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Suggestion != "This debate is closed" {
			t.Fatalf("attempt %d: unexpected suggestion %q", i, apiErr.Suggestion)
		}
	}
}

func TestInterventionAndRulingReturnTurnToProposer(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	createTestDebate(t, service, "d1")

	intervention, err := service.SubmitIntervention(ctx, SubmitInterventionInput{DebateID: "d1"})
	if err != nil {
		t.Fatalf("intervention failed: %v", err)
	}
	if intervention.Debate.State != StateInterventionPending {
		t.Fatalf("expected %s, got %s", StateInterventionPending, intervention.Debate.State)
	}
	if intervention.Argument.Content != "" || intervention.Argument.ClientRequestID != nil {
		t.Fatalf("expected empty optional fields, got %+v", intervention.Argument)
	}

	ruling, err := service.SubmitRuling(ctx, SubmitRulingInput{DebateID: "d1", Content: "carry on"})
	if err != nil {
		t.Fatalf("ruling failed: %v", err)
	}
	if ruling.Debate.State != StateAwaitingProposer {
		t.Fatalf("expected %s, got %s", StateAwaitingProposer, ruling.Debate.State)
	}
}

func TestConcurrentClaimsGetContiguousSeqs(t *testing.T) {
	service := newTestService(t)
	observer := &recordingObserver{}
	service.AddObserver(observer)
	created := createTestDebate(t, service, "d1")
	ctx := context.Background()

	// Alternate opponent and proposer so every submission is legal in some
	// order; each goroutine retries until its turn comes.
	const rounds = 10
	var group errgroup.Group
	for i := 0; i < rounds; i++ {
		for _, role := range []Role{RoleOpponent, RoleProposer} {
			group.Go(func() error {
				token := fmt.Sprintf("%s-%d", role, i)
				deadline := time.Now().Add(5 * time.Second)
				for {
					_, err := service.SubmitClaim(ctx, SubmitClaimInput{
						DebateID: "d1", Role: role, TargetID: created.Argument.ID, Content: token, ClientRequestID: token,
					})
					if err == nil {
						return nil
					}
					if !errors.Is(err, ErrActionNotAllowed) || time.Now().After(deadline) {
						return err
					}
					time.Sleep(time.Millisecond)
				}
			})
		}
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent claims failed: %v", err)
	}

	arguments, err := service.Store().GetArguments(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("get arguments failed: %v", err)
	}
	if len(arguments) != 2*rounds+1 {
		t.Fatalf("expected %d arguments, got %d", 2*rounds+1, len(arguments))
	}
	for i, argument := range arguments {
		if argument.Seq != int64(i+1) {
			t.Fatalf("expected gapless seq, got %d at position %d", argument.Seq, i)
		}
	}
	seqs := observer.seqs()
	if !sort.SliceIsSorted(seqs, func(i, j int) bool { return seqs[i] < seqs[j] }) {
		t.Fatalf("expected observers to see commits in seq order, got %v", seqs)
	}
	debate, err := service.GetDebate(ctx, "d1")
	if err != nil {
		t.Fatalf("get debate failed: %v", err)
	}
	replayed, err := Replay(arguments, debate.State)
	if err != nil || replayed != debate.State {
		t.Fatalf("expected cached state %s to match replay %s (%v)", debate.State, replayed, err)
	}
}

func TestConcurrentDuplicatesCreateOneArgument(t *testing.T) {
	service := newTestService(t)
	created := createTestDebate(t, service, "d1")
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var group errgroup.Group
	for i := 0; i < n; i++ {
		group.Go(func() error {
			result, err := service.SubmitClaim(ctx, SubmitClaimInput{
				DebateID: "d1", Role: RoleOpponent, TargetID: created.Argument.ID, Content: "same", ClientRequestID: "dup",
			})
			if err != nil {
				return err
			}
			ids[i] = result.Argument.ID
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("duplicate submissions failed: %v", err)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected every duplicate to return %s, got %v", ids[0], ids)
		}
	}
	arguments, err := service.Store().GetArguments(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("get arguments failed: %v", err)
	}
	if len(arguments) != 2 {
		t.Fatalf("expected one claim to be stored, got %d arguments", len(arguments))
	}
}

func TestDebatesProceedInParallel(t *testing.T) {
	service := newTestService(t)
	createTestDebate(t, service, "d1")
	d2 := createTestDebate(t, service, "d2")

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = service.Coordinator().WithLock(context.Background(), "d1", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := service.SubmitClaim(ctx, SubmitClaimInput{
		DebateID: "d2", Role: RoleOpponent, TargetID: d2.Argument.ID, Content: "c", ClientRequestID: "c1",
	}); err != nil {
		t.Fatalf("expected d2 to proceed while d1 is locked, got %v", err)
	}
}

func TestGetDebateWithArgumentsLimits(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := createTestDebate(t, service, "d1")
	submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")
	if _, err := service.SubmitClaim(ctx, SubmitClaimInput{
		DebateID: "d1", Role: RoleProposer, TargetID: created.Argument.ID, Content: "reply", ClientRequestID: "c2",
	}); err != nil {
		t.Fatalf("proposer claim failed: %v", err)
	}
	submitOpponentClaim(t, service, "d1", created.Argument.ID, "c3")

	all, err := service.GetDebateWithArguments(ctx, "d1", nil)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(all.Arguments) != 3 || all.Arguments[0].Seq != 2 || all.Arguments[2].Seq != 4 {
		t.Fatalf("unexpected arguments: %+v", all.Arguments)
	}

	two := 2
	recent, err := service.GetDebateWithArguments(ctx, "d1", &two)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(recent.Arguments) != 2 || recent.Arguments[0].Seq != 3 || recent.Arguments[1].Seq != 4 {
		t.Fatalf("expected seqs 3,4 in ascending order, got %+v", recent.Arguments)
	}
	if recent.Motion == nil || recent.Motion.Seq != 1 {
		t.Fatalf("expected motion to be returned separately")
	}

	zero := 0
	none, err := service.GetDebateWithArguments(ctx, "d1", &zero)
	if err != nil || len(none.Arguments) != 0 {
		t.Fatalf("expected no arguments for limit 0, got %v (%v)", none.Arguments, err)
	}

	negative := -1
	if _, err := service.GetDebateWithArguments(ctx, "d1", &negative); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative limit, got %v", err)
	}

	contextView, err := service.GetContext(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("get context failed: %v", err)
	}
	if len(contextView.Arguments) != 1 || contextView.Arguments[0].Seq != 4 {
		t.Fatalf("expected limit to clamp to 1, got %+v", contextView.Arguments)
	}
	full, err := service.GetContext(ctx, "d1", 50)
	if err != nil || len(full.Arguments) != 4 || full.Arguments[0].Type != ArgumentMotion {
		t.Fatalf("expected context to include motion, got %+v (%v)", full.Arguments, err)
	}
}

func TestListDebates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	service.opts.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	first := createTestDebate(t, service, "d1")
	createTestDebate(t, service, "d2")
	submitOpponentClaim(t, service, "d1", first.Argument.ID, "c1")

	list, err := service.ListDebates(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if list.Total != 2 || len(list.Debates) != 2 {
		t.Fatalf("expected 2 debates, got %+v", list)
	}
	if list.Debates[0].ID != "d1" {
		t.Fatalf("expected most recently updated first, got %s", list.Debates[0].ID)
	}

	filtered, err := service.ListDebates(ctx, ListFilter{State: StateAwaitingOpponent})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if filtered.Total != 1 || filtered.Debates[0].ID != "d2" {
		t.Fatalf("expected only d2 awaiting opponent, got %+v", filtered)
	}

	paged, err := service.ListDebates(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if paged.Total != 2 || len(paged.Debates) != 1 || paged.Debates[0].ID != "d2" {
		t.Fatalf("unexpected page: %+v", paged)
	}

	if _, err := service.ListDebates(ctx, ListFilter{Limit: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative limit, got %v", err)
	}
	if _, err := service.ListDebates(ctx, ListFilter{State: "BOGUS"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown state, got %v", err)
	}
}

func TestDeleteDebate(t *testing.T) {
	service := newTestService(t)
	observer := &recordingObserver{}
	service.AddObserver(observer)
	ctx := context.Background()
	created := createTestDebate(t, service, "d1")
	submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")

	if err := service.DeleteDebate(ctx, "d1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := service.GetDebate(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected debate to be gone, got %v", err)
	}
	if _, err := service.Store().GetArgument(ctx, created.Argument.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected arguments to be gone, got %v", err)
	}
	if len(observer.deleted) != 1 || observer.deleted[0] != "d1" {
		t.Fatalf("expected observer to hear about deletion, got %v", observer.deleted)
	}
	var apiErr *Error
	if err := service.DeleteDebate(ctx, "d1"); !errors.As(err, &apiErr) || apiErr.Code != CodeDebateNotFound {
		t.Fatalf("expected debate not found on second delete, got %v", err)
	}
}

func TestRepairFixesCachedState(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := createTestDebate(t, service, "d1")
	submitOpponentClaim(t, service, "d1", created.Argument.ID, "c1")
	createTestDebate(t, service, "d2")

	err := service.Store().WithTx(ctx, func(tx Tx) error {
		return tx.UpdateDebateState(ctx, "d1", StateAwaitingArbitrator, time.Now())
	})
	if err != nil {
		t.Fatalf("corrupt state failed: %v", err)
	}

	dry, err := service.Repair(ctx, true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if len(dry) != 1 || dry[0].DebateID != "d1" || dry[0].Fixed || dry[0].Replayed != StateAwaitingProposer {
		t.Fatalf("unexpected dry run result: %+v", dry)
	}
	debate, _ := service.GetDebate(ctx, "d1")
	if debate.State != StateAwaitingArbitrator {
		t.Fatalf("expected dry run not to write, got %s", debate.State)
	}

	fixed, err := service.Repair(ctx, false)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if len(fixed) != 1 || !fixed[0].Fixed {
		t.Fatalf("expected d1 to be fixed, got %+v", fixed)
	}
	debate, _ = service.GetDebate(ctx, "d1")
	if debate.State != StateAwaitingProposer {
		t.Fatalf("expected repaired state %s, got %s", StateAwaitingProposer, debate.State)
	}
}

type fakeBusyStore struct {
	Store
	failures int
	calls    int
}

func (s *fakeBusyStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return fmt.Errorf("%w: database is locked", ErrStoreBusy)
	}
	return s.Store.WithTx(ctx, fn)
}

func TestStoreBusyIsRetriedThenReported(t *testing.T) {
	inner, err := OpenMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("open memory store failed: %v", err)
	}
	defer inner.Close()
	busy := &fakeBusyStore{Store: inner, failures: 2}
	service := NewService(busy, nil, ServiceOptions{Retry: RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}})

	if _, err := service.CreateDebate(context.Background(), CreateDebateInput{
		DebateID: "d1", Title: "t", DebateType: "x", MotionContent: "m", ClientRequestID: "r",
	}); err != nil {
		t.Fatalf("expected create to succeed after retries, got %v", err)
	}
	if busy.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", busy.calls)
	}

	busy.calls = 0
	busy.failures = 100
	_, err = service.SubmitIntervention(context.Background(), SubmitInterventionInput{DebateID: "d1"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeStoreBusy {
		t.Fatalf("expected store busy, got %v", err)
	}
	if busy.calls != 4 {
		t.Fatalf("expected initial attempt plus 3 retries, got %d", busy.calls)
	}
	if strings.Contains(apiErr.Message, "locked") {
		t.Fatalf("expected busy message not to leak driver detail: %q", apiErr.Message)
	}
}

func TestCommitsWithoutSubscribersAreNotTracked(t *testing.T) {
	service := newTestService(t)
	for i := 0; i < 200; i++ {
		created := createTestDebate(t, service, fmt.Sprintf("d%d", i))
		if i%10 == 0 {
			submitOpponentClaim(t, service, created.Debate.ID, created.Argument.ID, "c1")
		}
	}
	if got := service.trackedCount(); got != 0 {
		t.Fatalf("expected no tracked debates, got %d", got)
	}
	if stats := service.Coordinator().Stats(); stats.Debates != 0 {
		t.Fatalf("expected coordinator to hold no debates, got %+v", stats)
	}
}
