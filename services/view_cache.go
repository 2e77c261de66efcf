package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"simboard/content"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SessionView is the host-facing snapshot of a running session,
// mirrored into redis after every successful mutation so the hub can
// state-sync clients that connect late.
type SessionView struct {
	SessionID         uint           `json:"session_id"`
	Status            string         `json:"status"`
	CurrentSlideIndex int            `json:"current_slide_index"`
	CurrentSlide      *content.Slide `json:"current_slide,omitempty"`
	TotalSlides       int            `json:"total_slides"`
	IsPlaying         bool           `json:"is_playing"`
	IsComplete        bool           `json:"is_complete"`
	Alert             *HostAlert     `json:"alert,omitempty"`
}

// ViewCache stores and retrieves session views.
type ViewCache interface {
	StoreView(ctx context.Context, view *SessionView) error
	GetView(ctx context.Context, sessionID uint) (*SessionView, error)
}

// RedisViewCache keeps views as JSON under session:<id> with a TTL so
// abandoned sessions age out on their own.
type RedisViewCache struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisViewCache(client *redis.Client, log *logrus.Logger) *RedisViewCache {
	return &RedisViewCache{client: client, log: log}
}

func viewKey(sessionID uint) string {
	return fmt.Sprintf("session:%d", sessionID)
}

func (c *RedisViewCache) StoreView(ctx context.Context, view *SessionView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal session view: %w", err)
	}

	if err := c.client.Set(ctx, viewKey(view.SessionID), data, 4*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store session view: %w", err)
	}
	return nil
}

func (c *RedisViewCache) GetView(ctx context.Context, sessionID uint) (*SessionView, error) {
	data, err := c.client.Get(ctx, viewKey(sessionID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("session_id", sessionID).Warn("redis error reading session view")
		}
		return nil, ErrSessionNotFound
	}

	var view SessionView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session view: %w", err)
	}
	return &view, nil
}
