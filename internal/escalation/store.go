package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps escalation sessions in Redis, one active session per subject.
// Reads are fail-closed: store failures read as "no session".
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// NewStore constructs a Store.
func NewStore(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// putRetries bounds the optimistic-locking retry loop in Put.
const putRetries = 5

// Put inserts the session, replacing any prior session for the same
// subject. The read of the subject pointer and the delete-old-insert-new
// write run under WATCH, so racing escalations retry instead of leaving
// both token keys live; the last writer wins.
func (s *Store) Put(ctx context.Context, sess Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := subjectKey(sess.SubjectID)
	for attempt := 0; attempt < putRetries; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if old != "" && old != sess.Token {
					pipe.Del(ctx, tokenKey(old))
				}
				pipe.Set(ctx, tokenKey(sess.Token), raw, ttl)
				pipe.Set(ctx, key, sess.Token, ttl)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Get resolves a token to its session. A token the subject pointer no
// longer names was superseded by a newer escalation and reads as no
// session, as do missing tokens and unreachable stores.
func (s *Store) Get(ctx context.Context, token string) *Session {
	if token == "" {
		return nil
	}
	raw, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.Warn("escalation store read", slog.Any("error", err))
		}
		return nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil
	}
	if current, ok := s.TokenForSubject(ctx, sess.SubjectID); !ok || current != token {
		return nil
	}
	return &sess
}

// Delete removes the session for a token. Idempotent.
func (s *Store) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sess := s.Get(ctx, token)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(token))
		if sess != nil {
			pipe.Del(ctx, subjectKey(sess.SubjectID))
		}
		return nil
	})
	return err
}

// TokenForSubject returns the subject's active token, if any. The lookup
// never extends the session TTL.
func (s *Store) TokenForSubject(ctx context.Context, subjectID int64) (string, bool) {
	token, err := s.client.Get(ctx, subjectKey(subjectID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.Warn("escalation store read", slog.Any("error", err))
		}
		return "", false
	}
	return token, token != ""
}

// DeleteForSubject revokes the subject's session, if any. Account-level
// events (password change, deactivation) use this.
func (s *Store) DeleteForSubject(ctx context.Context, subjectID int64) error {
	token, ok := s.TokenForSubject(ctx, subjectID)
	if !ok {
		return nil
	}
	return s.Delete(ctx, token)
}

func tokenKey(token string) string {
	return "escalation:token:" + token
}

func subjectKey(subjectID int64) string {
	return "escalation:subject:" + strconv.FormatInt(subjectID, 10)
}
