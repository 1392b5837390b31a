package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentworkforce/relaydebate/internal/logging"
)

const (
	DefaultMaxContentLength = 10240
	DefaultPollTimeout      = 60 * time.Second
	maxRecentArguments      = 500
	maxSnapshotArguments    = 5000
	maxListLimit            = 500
	defaultListLimit        = 50
)

// Observer receives committed changes. Calls happen while the debate's lock
// is held, so for one debate they arrive in seq order. Implementations must
// not block.
type Observer interface {
	ArgumentCommitted(ctx context.Context, debate Debate, argument Argument)
	DebateDeleted(ctx context.Context, debateID string)
}

// CommitPublisher fans local commits out to other processes sharing the
// store.
type CommitPublisher interface {
	PublishCommit(ctx context.Context, debateID string, seq int64)
}

type ServiceOptions struct {
	MaxContentLength int
	PollTimeout      time.Duration
	Retry            RetryPolicy
	Logger           *logging.Logger
	Tracer           trace.Tracer
	Now              func() time.Time
	NewID            func() string
}

// Service is the only writer of the store. Every mutation runs under the
// debate's coordinator lock inside a busy-retried transaction, and observers
// hear about it only after commit.
type Service struct {
	store       Store
	coordinator *Coordinator
	opts        ServiceOptions
	log         *logging.Logger
	tracer      trace.Tracer

	observersMu sync.RWMutex
	observers   []Observer
	publisher   CommitPublisher

	seenMu  sync.Mutex
	seenSeq map[string]int64
}

type CreateDebateInput struct {
	DebateID        string `json:"debate_id"`
	Title           string `json:"title"`
	DebateType      string `json:"debate_type"`
	MotionContent   string `json:"motion_content"`
	ClientRequestID string `json:"client_request_id"`
}

type SubmitClaimInput struct {
	DebateID        string `json:"debate_id"`
	Role            Role   `json:"role"`
	TargetID        string `json:"target_id"`
	Content         string `json:"content"`
	ClientRequestID string `json:"client_request_id"`
}

// TargetedInput carries a proposer appeal or resolution.
type TargetedInput struct {
	DebateID        string `json:"debate_id"`
	TargetID        string `json:"target_id"`
	Content         string `json:"content"`
	ClientRequestID string `json:"client_request_id"`
}

type SubmitInterventionInput struct {
	DebateID        string `json:"debate_id"`
	Content         string `json:"content"`
	ClientRequestID string `json:"client_request_id"`
}

type SubmitRulingInput struct {
	DebateID        string `json:"debate_id"`
	Content         string `json:"content"`
	Close           bool   `json:"close"`
	ClientRequestID string `json:"client_request_id"`
}

type RepairResult struct {
	DebateID string `json:"debate_id"`
	Cached   State  `json:"cached"`
	Replayed State  `json:"replayed"`
	Fixed    bool   `json:"fixed"`
	Error    string `json:"error,omitempty"`
}

type submission struct {
	debateID        string
	argType         ArgumentType
	role            Role
	parentID        string
	content         string
	clientRequestID string
	close           bool
}

func NewService(store Store, coordinator *Coordinator, opts ServiceOptions) *Service {
	if coordinator == nil {
		coordinator = NewCoordinator()
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Retry.MaxRetries <= 0 && opts.Retry.BaseDelay <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/agentworkforce/relaydebate/internal/debate")
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		store:       store,
		coordinator: coordinator,
		opts:        opts,
		log:         opts.Logger.With("component", "debate_service"),
		tracer:      opts.Tracer,
		seenSeq:     map[string]int64{},
	}
}

func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

func (s *Service) Store() Store {
	return s.store
}

func (s *Service) PollTimeout() time.Duration {
	return s.opts.PollTimeout
}

func (s *Service) MaxContentLength() int {
	return s.opts.MaxContentLength
}

func (s *Service) AddObserver(observer Observer) {
	if observer == nil {
		return
	}
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, observer)
}

func (s *Service) SetPublisher(publisher CommitPublisher) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.publisher = publisher
}

func (s *Service) CreateDebate(ctx context.Context, in CreateDebateInput) (Result, error) {
	in.DebateID = strings.TrimSpace(in.DebateID)
	switch {
	case in.DebateID == "":
		return Result{}, invalidInput("debate_id is required")
	case strings.TrimSpace(in.Title) == "":
		return Result{}, invalidInput("title is required")
	case strings.TrimSpace(in.DebateType) == "":
		return Result{}, invalidInput("debate_type is required")
	case in.MotionContent == "":
		return Result{}, invalidInput("motion_content is required")
	case strings.TrimSpace(in.ClientRequestID) == "":
		return Result{}, invalidInput("client_request_id is required")
	}
	if err := s.checkContent(in.MotionContent); err != nil {
		return Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "debate.create_debate", trace.WithAttributes(attribute.String("debate.id", in.DebateID)))
	defer span.End()

	var (
		result  Result
		created bool
	)
	err := s.coordinator.WithLock(ctx, in.DebateID, func() error {
		txCtx := context.WithoutCancel(ctx)
		err := RetryBusy(txCtx, s.opts.Retry, func() error {
			created = false
			return s.store.WithTx(txCtx, func(tx Tx) error {
				if err := tx.LockDebate(txCtx, in.DebateID); err != nil {
					return err
				}
				existing, err := tx.GetDebate(txCtx, in.DebateID)
				if err == nil {
					motion, found, err := tx.FindArgumentByClientRequestID(txCtx, in.DebateID, in.ClientRequestID)
					if err != nil {
						return err
					}
					if !found || motion.Type != ArgumentMotion {
						return invalidInput("Debate already exists with a different request")
					}
					result = Result{Debate: existing, Argument: motion}
					return nil
				}
				if !errors.Is(err, ErrNotFound) {
					return err
				}

				now := s.opts.Now()
				debate := Debate{
					ID:         in.DebateID,
					Title:      in.Title,
					DebateType: in.DebateType,
					State:      StateAwaitingOpponent,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := tx.InsertDebate(txCtx, debate); err != nil {
					return err
				}
				motion := Argument{
					ID:              s.opts.NewID(),
					DebateID:        in.DebateID,
					Type:            ArgumentMotion,
					Role:            RoleProposer,
					Content:         in.MotionContent,
					ClientRequestID: stringPtr(in.ClientRequestID),
					Seq:             1,
					CreatedAt:       now,
				}
				if err := tx.InsertArgument(txCtx, motion); err != nil {
					return err
				}
				next, _ := NextState(StateAwaitingOpponent, ArgumentMotion, RoleProposer, TransitionOptions{})
				debate.State = next
				result = Result{Debate: debate, Argument: motion}
				created = true
				return nil
			})
		})
		if err != nil {
			return err
		}
		if created {
			s.committed(ctx, result)
		}
		return nil
	})
	if err != nil {
		return Result{}, s.fail(span, "create_debate", in.DebateID, err)
	}
	span.SetAttributes(attribute.Int64("debate.seq", result.Argument.Seq), attribute.Bool("debate.replayed", !created))
	s.log.Debug("debate created", "debate_id", in.DebateID, "replayed", !created)
	return result, nil
}

func (s *Service) SubmitClaim(ctx context.Context, in SubmitClaimInput) (Result, error) {
	if in.Role != RoleProposer && in.Role != RoleOpponent {
		return Result{}, invalidInput("role must be proposer or opponent")
	}
	if strings.TrimSpace(in.TargetID) == "" {
		return Result{}, invalidInput("target_id is required")
	}
	if in.Content == "" {
		return Result{}, invalidInput("content is required")
	}
	if strings.TrimSpace(in.ClientRequestID) == "" {
		return Result{}, invalidInput("client_request_id is required")
	}
	return s.submit(ctx, submission{
		debateID:        in.DebateID,
		argType:         ArgumentClaim,
		role:            in.Role,
		parentID:        in.TargetID,
		content:         in.Content,
		clientRequestID: in.ClientRequestID,
	})
}

func (s *Service) SubmitAppeal(ctx context.Context, in TargetedInput) (Result, error) {
	return s.submitTargeted(ctx, ArgumentAppeal, in)
}

func (s *Service) SubmitResolution(ctx context.Context, in TargetedInput) (Result, error) {
	return s.submitTargeted(ctx, ArgumentResolution, in)
}

func (s *Service) submitTargeted(ctx context.Context, argType ArgumentType, in TargetedInput) (Result, error) {
	if strings.TrimSpace(in.TargetID) == "" {
		return Result{}, invalidInput("target_id is required")
	}
	if in.Content == "" {
		return Result{}, invalidInput("content is required")
	}
	if strings.TrimSpace(in.ClientRequestID) == "" {
		return Result{}, invalidInput("client_request_id is required")
	}
	return s.submit(ctx, submission{
		debateID:        in.DebateID,
		argType:         argType,
		role:            RoleProposer,
		parentID:        in.TargetID,
		content:         in.Content,
		clientRequestID: in.ClientRequestID,
	})
}

func (s *Service) SubmitIntervention(ctx context.Context, in SubmitInterventionInput) (Result, error) {
	return s.submit(ctx, submission{
		debateID:        in.DebateID,
		argType:         ArgumentIntervention,
		role:            RoleArbitrator,
		content:         in.Content,
		clientRequestID: in.ClientRequestID,
	})
}

func (s *Service) SubmitRuling(ctx context.Context, in SubmitRulingInput) (Result, error) {
	if in.Content == "" {
		return Result{}, invalidInput("content is required")
	}
	return s.submit(ctx, submission{
		debateID:        in.DebateID,
		argType:         ArgumentRuling,
		role:            RoleArbitrator,
		content:         in.Content,
		clientRequestID: in.ClientRequestID,
		close:           in.Close,
	})
}

func (s *Service) submit(ctx context.Context, sub submission) (Result, error) {
	sub.debateID = strings.TrimSpace(sub.debateID)
	sub.parentID = strings.TrimSpace(sub.parentID)
	sub.clientRequestID = strings.TrimSpace(sub.clientRequestID)
	if sub.debateID == "" {
		return Result{}, invalidInput("debate_id is required")
	}
	if err := s.checkContent(sub.content); err != nil {
		return Result{}, err
	}
	action := actionForType(sub.argType)

	ctx, span := s.tracer.Start(ctx, "debate."+string(action), trace.WithAttributes(
		attribute.String("debate.id", sub.debateID),
		attribute.String("debate.role", string(sub.role)),
	))
	defer span.End()

	var (
		result  Result
		created bool
	)
	err := s.coordinator.WithLock(ctx, sub.debateID, func() error {
		txCtx := context.WithoutCancel(ctx)
		err := RetryBusy(txCtx, s.opts.Retry, func() error {
			created = false
			return s.store.WithTx(txCtx, func(tx Tx) error {
				if err := tx.LockDebate(txCtx, sub.debateID); err != nil {
					return err
				}
				debate, err := tx.GetDebate(txCtx, sub.debateID)
				if errors.Is(err, ErrNotFound) {
					return debateNotFound(sub.debateID)
				}
				if err != nil {
					return err
				}

				if sub.clientRequestID != "" {
					existing, found, err := tx.FindArgumentByClientRequestID(txCtx, sub.debateID, sub.clientRequestID)
					if err != nil {
						return err
					}
					if found {
						result = Result{Debate: debate, Argument: existing}
						return nil
					}
				}

				if sub.parentID != "" {
					parent, err := tx.GetArgument(txCtx, sub.parentID)
					if errors.Is(err, ErrNotFound) {
						return argumentNotFound(sub.parentID)
					}
					if err != nil {
						return err
					}
					if parent.DebateID != sub.debateID {
						return invalidInput("Target argument %s does not belong to debate %s", sub.parentID, sub.debateID)
					}
				}

				if !CanPerform(debate.State, sub.role, action) {
					return actionNotAllowed(debate.State, sub.role, action)
				}

				seq, err := tx.GetNextSeq(txCtx, sub.debateID)
				if err != nil {
					return err
				}
				now := s.opts.Now()
				argument := Argument{
					ID:              s.opts.NewID(),
					DebateID:        sub.debateID,
					ParentID:        stringPtr(sub.parentID),
					Type:            sub.argType,
					Role:            sub.role,
					Content:         sub.content,
					ClientRequestID: stringPtr(sub.clientRequestID),
					Seq:             seq,
					CreatedAt:       now,
				}
				if err := tx.InsertArgument(txCtx, argument); err != nil {
					return err
				}
				next, ok := NextState(debate.State, sub.argType, sub.role, TransitionOptions{Close: sub.close})
				if !ok {
					s.log.Error("no state transition for authorized argument",
						"debate_id", sub.debateID, "state", debate.State, "type", sub.argType, "role", sub.role)
				}
				if err := tx.UpdateDebateState(txCtx, sub.debateID, next, now); err != nil {
					return err
				}
				debate.State = next
				debate.UpdatedAt = now
				result = Result{Debate: debate, Argument: argument}
				created = true
				return nil
			})
		})
		if err != nil {
			return err
		}
		if created {
			s.committed(ctx, result)
		}
		return nil
	})
	if err != nil {
		return Result{}, s.fail(span, string(action), sub.debateID, err)
	}
	span.SetAttributes(attribute.Int64("debate.seq", result.Argument.Seq), attribute.Bool("debate.replayed", !created))
	s.log.Debug("argument submitted",
		"debate_id", sub.debateID, "type", sub.argType, "role", sub.role,
		"seq", result.Argument.Seq, "state", result.Debate.State, "replayed", !created)
	return result, nil
}

// committed runs after the transaction commits and before the debate lock
// is released.
func (s *Service) committed(ctx context.Context, result Result) {
	s.markSeen(result.Debate.ID, result.Argument.Seq)
	s.coordinator.NotifyNewArgument(result.Debate.ID)
	s.observersMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	publisher := s.publisher
	s.observersMu.RUnlock()
	for _, observer := range observers {
		observer.ArgumentCommitted(ctx, result.Debate, result.Argument)
	}
	if publisher != nil {
		publisher.PublishCommit(ctx, result.Debate.ID, result.Argument.Seq)
	}
}

func (s *Service) checkContent(content string) error {
	if utf8.RuneCountInString(content) > s.opts.MaxContentLength {
		return contentTooLarge(s.opts.MaxContentLength)
	}
	return nil
}

// fail converts err into a caller-facing error, records it on the span and
// logs anything unexpected.
func (s *Service) fail(span trace.Span, op, debateID string, err error) error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, ErrStoreBusy):
		s.log.Warn("store busy after retries", "op", op, "debate_id", debateID, "error", err)
		apiErr = storeBusy()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		span.RecordError(err)
		return err
	default:
		s.log.Error("debate operation failed", "op", op, "debate_id", debateID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s %s: %w", op, debateID, err)
	}
	span.SetAttributes(attribute.String("debate.error_code", apiErr.Code))
	return apiErr
}

func (s *Service) GetDebate(ctx context.Context, debateID string) (Debate, error) {
	debate, err := s.store.GetDebate(ctx, debateID)
	if errors.Is(err, ErrNotFound) {
		return Debate{}, debateNotFound(debateID)
	}
	return debate, err
}

func (s *Service) ListDebates(ctx context.Context, filter ListFilter) (DebateList, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return DebateList{}, invalidInput("limit and offset must not be negative")
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.State != "" {
		if _, ok := ParseState(string(filter.State)); !ok {
			return DebateList{}, invalidInput("unknown state %q", filter.State)
		}
	}
	debates, total, err := s.store.ListDebates(ctx, filter)
	if err != nil {
		return DebateList{}, err
	}
	return DebateList{Debates: debates, Total: total}, nil
}

// GetDebateWithArguments returns the debate, its motion, and its other
// arguments. A nil limit returns all of them, 0 returns none, and a positive
// limit returns the most recent ones (at most 500) in seq order.
func (s *Service) GetDebateWithArguments(ctx context.Context, debateID string, limit *int) (DebateView, error) {
	if limit != nil && *limit < 0 {
		return DebateView{}, invalidInput("limit must not be negative")
	}
	debate, err := s.GetDebate(ctx, debateID)
	if err != nil {
		return DebateView{}, err
	}
	view := DebateView{Debate: debate, Arguments: []Argument{}}
	motion, err := s.store.GetMotion(ctx, debateID)
	switch {
	case err == nil:
		view.Motion = &motion
	case !errors.Is(err, ErrNotFound):
		return DebateView{}, err
	}
	n := maxArgumentsRead
	if limit != nil {
		n = *limit
		if n > maxRecentArguments {
			n = maxRecentArguments
		}
	}
	if n == 0 {
		return view, nil
	}
	arguments, err := s.store.GetRecentArgumentsExcludingMotion(ctx, debateID, n)
	if err != nil {
		return DebateView{}, err
	}
	view.Arguments = arguments
	return view, nil
}

// GetContext returns the debate with its most recent arguments, motion
// included, clamped to 1..500.
func (s *Service) GetContext(ctx context.Context, debateID string, limit int) (Snapshot, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxRecentArguments {
		limit = maxRecentArguments
	}
	debate, err := s.GetDebate(ctx, debateID)
	if err != nil {
		return Snapshot{}, err
	}
	arguments, err := s.store.GetRecentArguments(ctx, debateID, limit)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Debate: debate, Arguments: arguments}, nil
}

// GetSnapshot returns the debate with its full log, motion included, capped
// at the hub's snapshot size.
func (s *Service) GetSnapshot(ctx context.Context, debateID string) (Snapshot, error) {
	debate, err := s.GetDebate(ctx, debateID)
	if err != nil {
		return Snapshot{}, err
	}
	arguments, err := s.store.GetRecentArguments(ctx, debateID, maxSnapshotArguments)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Debate: debate, Arguments: arguments}, nil
}

// DeleteDebate removes a debate and its arguments. Waiters are woken so
// they observe the removal, and observers drop their subscribers.
func (s *Service) DeleteDebate(ctx context.Context, debateID string) error {
	debateID = strings.TrimSpace(debateID)
	if debateID == "" {
		return invalidInput("debate_id is required")
	}
	ctx, span := s.tracer.Start(ctx, "debate.delete_debate", trace.WithAttributes(attribute.String("debate.id", debateID)))
	defer span.End()

	err := s.coordinator.WithLock(ctx, debateID, func() error {
		txCtx := context.WithoutCancel(ctx)
		err := RetryBusy(txCtx, s.opts.Retry, func() error {
			return s.store.WithTx(txCtx, func(tx Tx) error {
				if err := tx.LockDebate(txCtx, debateID); err != nil {
					return err
				}
				err := tx.DeleteDebate(txCtx, debateID)
				if errors.Is(err, ErrNotFound) {
					return debateNotFound(debateID)
				}
				return err
			})
		})
		if err != nil {
			return err
		}
		s.forget(debateID)
		s.coordinator.NotifyNewArgument(debateID)
		s.observersMu.RLock()
		observers := append([]Observer(nil), s.observers...)
		s.observersMu.RUnlock()
		for _, observer := range observers {
			observer.DebateDeleted(ctx, debateID)
		}
		return nil
	})
	if err != nil {
		return s.fail(span, "delete_debate", debateID, err)
	}
	s.log.Info("debate deleted", "debate_id", debateID)
	return nil
}

// Repair replays every debate's log through the state machine and, unless
// dryRun is set, rewrites cached states that disagree with the replay.
func (s *Service) Repair(ctx context.Context, dryRun bool) ([]RepairResult, error) {
	results := make([]RepairResult, 0)
	for offset := 0; ; offset += maxListLimit {
		debates, _, err := s.store.ListDebates(ctx, ListFilter{Limit: maxListLimit, Offset: offset})
		if err != nil {
			return results, err
		}
		for _, debate := range debates {
			result, err := s.repairOne(ctx, debate.ID, dryRun)
			if err != nil {
				return results, err
			}
			if result.Fixed || result.Error != "" || result.Cached != result.Replayed {
				results = append(results, result)
			}
		}
		if len(debates) < maxListLimit {
			return results, nil
		}
	}
}

func (s *Service) repairOne(ctx context.Context, debateID string, dryRun bool) (RepairResult, error) {
	result := RepairResult{DebateID: debateID}
	err := s.coordinator.WithLock(ctx, debateID, func() error {
		return RetryBusy(ctx, s.opts.Retry, func() error {
			return s.store.WithTx(ctx, func(tx Tx) error {
				if err := tx.LockDebate(ctx, debateID); err != nil {
					return err
				}
				debate, err := tx.GetDebate(ctx, debateID)
				if err != nil {
					return err
				}
				arguments, err := tx.GetArguments(ctx, debateID, 0)
				if err != nil {
					return err
				}
				result.Cached = debate.State
				replayed, err := Replay(arguments, debate.State)
				if err != nil {
					result.Error = err.Error()
					return nil
				}
				result.Replayed = replayed
				if replayed == debate.State || dryRun {
					return nil
				}
				if err := tx.UpdateDebateState(ctx, debateID, replayed, debate.UpdatedAt); err != nil {
					return err
				}
				result.Fixed = true
				return nil
			})
		})
	})
	if result.Fixed {
		s.log.Warn("repaired cached debate state", "debate_id", debateID, "cached", result.Cached, "replayed", result.Replayed)
	}
	return result, err
}

// Resync picks up arguments committed by another process. Waiters on each
// debate are woken to re-check, and arguments past the last seq this
// process delivered are handed to observers.
func (s *Service) Resync(ctx context.Context, debateIDs []string) {
	for _, debateID := range debateIDs {
		s.coordinator.NotifyNewArgument(debateID)
		after, tracked := s.lastSeen(debateID)
		if !tracked {
			continue
		}
		err := s.coordinator.WithLock(ctx, debateID, func() error {
			debate, err := s.store.GetDebate(ctx, debateID)
			if errors.Is(err, ErrNotFound) {
				s.forget(debateID)
				s.observersMu.RLock()
				observers := append([]Observer(nil), s.observers...)
				s.observersMu.RUnlock()
				for _, observer := range observers {
					observer.DebateDeleted(ctx, debateID)
				}
				return nil
			}
			if err != nil {
				return err
			}
			after, _ = s.lastSeen(debateID)
			arguments, err := s.store.GetArgumentsAfter(ctx, debateID, after)
			if err != nil {
				return err
			}
			s.observersMu.RLock()
			observers := append([]Observer(nil), s.observers...)
			s.observersMu.RUnlock()
			for _, argument := range arguments {
				s.markSeen(debateID, argument.Seq)
				for _, observer := range observers {
					observer.ArgumentCommitted(ctx, debate, argument)
				}
			}
			return nil
		})
		if err != nil {
			s.log.Warn("resync failed", "debate_id", debateID, "error", err)
		}
	}
}

// Track starts following debateID for Resync from seq onwards. Only
// tracked debates have their arguments rebroadcast by Resync.
func (s *Service) Track(debateID string, seq int64) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if current, ok := s.seenSeq[debateID]; !ok || seq > current {
		s.seenSeq[debateID] = seq
	}
}

// Untrack stops following debateID.
func (s *Service) Untrack(debateID string) {
	s.forget(debateID)
}

// markSeen advances the cursor of a tracked debate and ignores the rest.
func (s *Service) markSeen(debateID string, seq int64) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if current, ok := s.seenSeq[debateID]; ok && seq > current {
		s.seenSeq[debateID] = seq
	}
}

func (s *Service) trackedCount() int {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return len(s.seenSeq)
}

func (s *Service) lastSeen(debateID string) (int64, bool) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	seq, ok := s.seenSeq[debateID]
	return seq, ok
}

func (s *Service) forget(debateID string) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	delete(s.seenSeq, debateID)
}
