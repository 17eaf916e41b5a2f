package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/models"
)

// Store keeps conversation transcripts in Redis lists, capped to the last
// N turns. History reads degrade to empty when Redis is unavailable; a
// request without history is still answerable.
type Store struct {
	client *circuitbreaker.RedisWrapper
	cfg    config.SessionConfig
	logger *zap.Logger
}

func NewStore(client *circuitbreaker.RedisWrapper, cfg config.SessionConfig, logger *zap.Logger) *Store {
	return &Store{client: client, cfg: cfg, logger: logger}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:history", sessionID)
}

// History returns the last turns for a session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]models.Turn, error) {
	if sessionID == "" {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, historyKey(sessionID), int64(-s.cfg.MaxTurns), -1).Result()
	if err != nil {
		s.logger.Warn("history read failed, continuing without it",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil, err
	}
	turns := make([]models.Turn, 0, len(raw))
	for _, entry := range raw {
		var t models.Turn
		if err := json.Unmarshal([]byte(entry), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append records the user turn and the assistant answer, trims the list to
// the cap and refreshes the TTL. Failures are logged, never surfaced: the
// response has already been produced.
func (s *Store) Append(ctx context.Context, sessionID string, turns ...models.Turn) {
	if sessionID == "" || len(turns) == 0 {
		return
	}
	key := historyKey(sessionID)
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		values = append(values, b)
	}
	if len(values) == 0 {
		return
	}
	if err := s.client.RPush(ctx, key, values...).Err(); err != nil {
		s.logger.Warn("history append failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := s.client.LTrim(ctx, key, int64(-s.cfg.MaxTurns), -1).Err(); err != nil {
		s.logger.Warn("history trim failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := s.client.Expire(ctx, key, s.cfg.TTL).Err(); err != nil {
		s.logger.Warn("history ttl refresh failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
