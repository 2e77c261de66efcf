package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Tables carried on the feed.
const (
	TableDecisions = "team_decisions"
	TableRoundData = "team_round_data"
)

// Event kinds.
const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
)

// Event is one row-level change notification. Delivery is
// at-least-once and unordered across keys: consumers must tolerate
// duplicates and reordering.
type Event struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Kind      string          `json:"kind"`
	SessionID uint            `json:"session_id"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// NewEvent marshals the changed rows into an Event. A nil row is left
// out of the payload.
func NewEvent(table, kind string, sessionID uint, newRow, oldRow interface{}) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Table:     table,
		Kind:      kind,
		SessionID: sessionID,
	}

	if newRow != nil {
		data, err := json.Marshal(newRow)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal new row: %w", err)
		}
		ev.New = data
	}
	if oldRow != nil {
		data, err := json.Marshal(oldRow)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal old row: %w", err)
		}
		ev.Old = data
	}
	return ev, nil
}

// Publisher pushes change events onto the feed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed is the full change-feed contract: publish plus per-session
// subscription. Subscribe returns a cancel func that stops delivery.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, sessionID uint, handler func(Event)) (func(), error)
}

func channelFor(sessionID uint) string {
	return fmt.Sprintf("feed:session:%d", sessionID)
}

// RedisFeed carries events over redis pub/sub, one channel per
// session.
type RedisFeed struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisFeed(client *redis.Client, log *logrus.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: log}
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}

	if err := f.client.Publish(ctx, channelFor(ev.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish feed event: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, sessionID uint, handler func(Event)) (func(), error) {
	pubsub := f.client.Subscribe(ctx, channelFor(sessionID))

	// Force the subscription to be established before returning so
	// callers do not miss events published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to feed: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.log.WithError(err).Warn("dropping malformed feed event")
				continue
			}
			handler(ev)
		}
	}()

	return func() { pubsub.Close() }, nil
}
