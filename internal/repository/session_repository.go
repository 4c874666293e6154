package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"learnmate-go/internal/model"
)

// historyTTL expires idle sessions; historyCap bounds stored turns.
const (
	historyTTL = 7 * 24 * time.Hour
	historyCap = 40
)

// SessionRepository owns per-session conversation state. History is mutated
// only by appending; Reset is the single allowed truncation.
type SessionRepository interface {
	History(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
	Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error
	Reset(ctx context.Context, sessionID string) error
}

type redisSessionRepository struct {
	client *redis.Client
}

// NewSessionRepository creates a Redis-backed SessionRepository.
func NewSessionRepository(client *redis.Client) SessionRepository {
	return &redisSessionRepository{client: client}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:history", sessionID)
}

func (r *redisSessionRepository) History(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	jsonData, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session history: %w", err)
	}

	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("unmarshal session history: %w", err)
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *redisSessionRepository) Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	history, err := r.History(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	if len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}

	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal session history: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sessionID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("set session history: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) Reset(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}
