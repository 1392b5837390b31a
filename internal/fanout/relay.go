package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentworkforce/relaydebate/internal/logging"
)

const (
	DefaultRelayChannel = "relaydebate"
	relayQueueSize      = 256
	relayPublishTimeout = 2 * time.Second
)

// CommitNotice is the message relayed between processes sharing a store.
type CommitNotice struct {
	Origin   string `json:"origin"`
	DebateID string `json:"debate_id"`
	Seq      int64  `json:"seq"`
}

// Relay publishes local commits to a Redis channel and resyncs debates
// when other processes announce theirs.
type Relay struct {
	rdb     *redis.Client
	channel string
	origin  string
	resync  Resyncer
	log     *logging.Logger
	queue   chan CommitNotice
}

func NewRelay(ctx context.Context, addr, channel string, resync Resyncer, log *logging.Logger) (*Relay, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRelayChannel
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRelay(rdb, channel, resync, log), nil
}

func newRelay(rdb *redis.Client, channel string, resync Resyncer, log *logging.Logger) *Relay {
	if log == nil {
		log = logging.Nop()
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		resync:  resync,
		log:     log.With("component", "redis_relay"),
		queue:   make(chan CommitNotice, relayQueueSize),
	}
}

// PublishCommit queues a notice without blocking the caller; notices are
// dropped when the queue is full.
func (r *Relay) PublishCommit(_ context.Context, debateID string, seq int64) {
	notice := CommitNotice{Origin: r.origin, DebateID: debateID, Seq: seq}
	select {
	case r.queue <- notice:
	default:
		r.log.Warn("dropping relay notice; queue full", "debate_id", debateID, "seq", seq)
	}
}

// Run subscribes to the channel and drains the publish queue until ctx
// ends.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	defer sub.Close()
	r.log.Info("relay subscribed", "channel", r.channel, "origin", r.origin)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case notice := <-r.queue:
			r.publish(ctx, notice)
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg.Payload)
		}
	}
}

func (r *Relay) publish(ctx context.Context, notice CommitNotice) {
	raw, err := json.Marshal(notice)
	if err != nil {
		r.log.Warn("failed to marshal relay notice", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()
	if err := r.rdb.Publish(pubCtx, r.channel, raw).Err(); err != nil {
		r.log.Warn("relay publish failed", "debate_id", notice.DebateID, "error", err)
	}
}

// handleMessage reports whether the payload triggered a resync.
func (r *Relay) handleMessage(ctx context.Context, payload string) bool {
	var notice CommitNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		r.log.Warn("invalid relay payload", "error", err)
		return false
	}
	if notice.Origin == r.origin || strings.TrimSpace(notice.DebateID) == "" {
		return false
	}
	r.resync.Resync(ctx, []string{notice.DebateID})
	return true
}

func (r *Relay) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
