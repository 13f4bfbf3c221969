// Package history keeps a per-session rolling window of chat turns in Redis.
// History is best-effort context for answer generation, not durable storage:
// entries expire with the session TTL and the window is bounded.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumora-cloud/ragserve/internal/db"
)

// kvStore is the consumer interface for history storage (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Turn is one question/answer exchange.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Repo stores bounded per-session chat history.
type Repo struct {
	store     kvStore
	keyPrefix string
	maxTurns  int
	ttl       time.Duration
}

// New creates a history repository. maxTurns bounds the rolling window; ttl
// expires idle sessions.
func New(s kvStore, keyPrefix string, maxTurns int, ttl time.Duration) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, maxTurns: maxTurns, ttl: ttl}
}

// Recent returns the session's turns, oldest first. A missing session is an
// empty history, not an error.
func (r *Repo) Recent(ctx context.Context, sessionID string) ([]Turn, error) {
	data, err := r.store.Get(ctx, r.key(sessionID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get history %s: %w", sessionID, err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		// corrupt history is discarded rather than poisoning every request
		return nil, nil
	}
	return turns, nil
}

// Append records one turn, trimming the window to maxTurns and refreshing the
// session TTL.
func (r *Repo) Append(ctx context.Context, sessionID string, turn Turn) error {
	turns, err := r.Recent(ctx, sessionID)
	if err != nil {
		return err
	}

	turns = append(turns, turn)
	if len(turns) > r.maxTurns {
		turns = turns[len(turns)-r.maxTurns:]
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal history %s: %w", sessionID, err)
	}
	if err := r.store.SetWithTTL(ctx, r.key(sessionID), data, r.ttl); err != nil {
		return fmt.Errorf("store history %s: %w", sessionID, err)
	}
	return nil
}

// Render formats turns as a plain-text transcript for prompt assembly.
func Render(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("User: ")
		b.WriteString(t.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Answer)
	}
	return b.String()
}

func (r *Repo) key(sessionID string) string {
	return r.keyPrefix + "history:" + sessionID
}
