package debate

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworkforce/relaydebate/internal/logging"
)

const DefaultOutboundBuffer = 16

type HubMessageType string

const (
	HubInitialState  HubMessageType = "initial_state"
	HubNewArgument   HubMessageType = "new_argument"
	HubDebateDeleted HubMessageType = "debate_deleted"
	HubError         HubMessageType = "error"
)

type HubMessage struct {
	Type      HubMessageType `json:"type"`
	Debate    *Debate        `json:"debate,omitempty"`
	Arguments []Argument     `json:"arguments,omitempty"`
	Argument  *Argument      `json:"argument,omitempty"`
	DebateID  string         `json:"debate_id,omitempty"`
	Error     map[string]any `json:"error,omitempty"`
}

// InboundMessage is an arbitrator action sent over the push channel.
type InboundMessage struct {
	Type            string `json:"type"`
	DebateID        string `json:"debate_id"`
	Content         string `json:"content"`
	Close           bool   `json:"close"`
	ClientRequestID string `json:"client_request_id"`
}

type Subscriber struct {
	ID       uuid.UUID
	DebateID string
	Outbound chan HubMessage

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the hub drops the subscriber.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub keeps per-debate subscriber sets and pushes committed arguments to
// them. A subscriber that cannot keep up is dropped rather than slowing the
// writer.
type Hub struct {
	mu            sync.Mutex
	service       *Service
	log           *logging.Logger
	buffer        int
	subscriptions map[string]map[*Subscriber]bool
}

// NewHub creates a hub and registers it with service.
func NewHub(service *Service, log *logging.Logger, buffer int) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	if buffer < 1 {
		buffer = DefaultOutboundBuffer
	}
	hub := &Hub{
		service:       service,
		log:           log.With("component", "debate_hub"),
		buffer:        buffer,
		subscriptions: map[string]map[*Subscriber]bool{},
	}
	service.AddObserver(hub)
	return hub
}

// Subscribe registers a subscriber whose first message is the debate's
// initial_state. The snapshot and the registration happen under the debate
// lock, so no commit can fall between them.
func (h *Hub) Subscribe(ctx context.Context, debateID string) (*Subscriber, error) {
	debateID = strings.TrimSpace(debateID)
	if debateID == "" {
		return nil, invalidInput("debate_id is required")
	}
	sub := &Subscriber{
		ID:       uuid.New(),
		DebateID: debateID,
		Outbound: make(chan HubMessage, h.buffer),
		done:     make(chan struct{}),
	}
	err := h.service.Coordinator().WithLock(ctx, debateID, func() error {
		snapshot, err := h.service.GetSnapshot(ctx, debateID)
		if err != nil {
			return err
		}
		debate := snapshot.Debate
		sub.Outbound <- HubMessage{Type: HubInitialState, Debate: &debate, Arguments: snapshot.Arguments}
		var lastSeq int64
		if n := len(snapshot.Arguments); n > 0 {
			lastSeq = snapshot.Arguments[n-1].Seq
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		h.service.Track(debateID, lastSeq)
		subs, ok := h.subscriptions[debateID]
		if !ok {
			subs = map[*Subscriber]bool{}
			h.subscriptions[debateID] = subs
		}
		subs[sub] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.log.Debug("hub subscriber added", "subscriber_id", sub.ID, "debate_id", debateID)
	return sub, nil
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if subs, ok := h.subscriptions[sub.DebateID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscriptions, sub.DebateID)
			h.service.Untrack(sub.DebateID)
		}
	}
	sub.close()
}

func (h *Hub) ArgumentCommitted(_ context.Context, debate Debate, argument Argument) {
	msg := HubMessage{Type: HubNewArgument, Debate: &debate, Argument: &argument}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscriptions[debate.ID] {
		select {
		case sub.Outbound <- msg:
		default:
			h.log.Warn("dropping hub subscriber; outbound buffer full", "subscriber_id", sub.ID, "debate_id", debate.ID)
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) DebateDeleted(_ context.Context, debateID string) {
	msg := HubMessage{Type: HubDebateDeleted, DebateID: debateID}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscriptions[debateID] {
		select {
		case sub.Outbound <- msg:
		default:
		}
		h.removeLocked(sub)
	}
}

// HandleInbound runs an arbitrator action on behalf of sub. Failures are
// sent back to sub as an error message and also returned.
func (h *Hub) HandleInbound(ctx context.Context, sub *Subscriber, msg InboundMessage) error {
	debateID := strings.TrimSpace(msg.DebateID)
	if debateID == "" {
		debateID = sub.DebateID
	}
	var err error
	switch {
	case debateID != sub.DebateID:
		err = invalidInput("debate_id %s does not match subscription %s", debateID, sub.DebateID)
	case msg.Type == string(ActionSubmitIntervention):
		_, err = h.service.SubmitIntervention(ctx, SubmitInterventionInput{
			DebateID:        debateID,
			Content:         msg.Content,
			ClientRequestID: msg.ClientRequestID,
		})
	case msg.Type == string(ActionSubmitRuling):
		_, err = h.service.SubmitRuling(ctx, SubmitRulingInput{
			DebateID:        debateID,
			Content:         msg.Content,
			Close:           msg.Close,
			ClientRequestID: msg.ClientRequestID,
		})
	default:
		err = invalidInput("unknown message type %q", msg.Type)
	}
	if err != nil {
		h.SendError(sub, err)
	}
	return err
}

// SendError queues an error message for sub without blocking.
func (h *Hub) SendError(sub *Subscriber, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = &Error{Code: CodeInternal, Message: "Internal error"}
	}
	select {
	case sub.Outbound <- HubMessage{Type: HubError, DebateID: sub.DebateID, Error: apiErr.Payload()}:
	default:
		h.log.Warn("dropping hub error message; outbound buffer full", "subscriber_id", sub.ID)
	}
}

func (h *Hub) SubscribedDebateIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.subscriptions))
	for id := range h.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.subscriptions {
		n += len(subs)
	}
	return n
}
