package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// SessionData is the payload carried by a primary login session.
type SessionData struct {
	SubjectID              int64    `json:"subject_id"`
	UserTypes              []string `json:"user_types"`
	LastSelectedDepartment *int64   `json:"last_selected_department,omitempty"`
}

// Tokens is the credential pair handed to clients at login and refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type accessPayload struct {
	Data         SessionData `json:"data"`
	RefreshToken string      `json:"refresh_token"`
}

type refreshPayload struct {
	Data        SessionData `json:"data"`
	AccessToken string      `json:"access_token"`
}

// TokenStore manages opaque bearer access/refresh tokens backed by Redis.
// All reads are fail-closed: a store failure reads as "no session".
type TokenStore struct {
	client     *redis.Client
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *TokenStore {
	return &TokenStore{client: client, accessTTL: accessTTL, refreshTTL: refreshTTL, logger: logger}
}

// Issue creates a fresh access/refresh token pair for the session data.
func (ts *TokenStore) Issue(ctx context.Context, data SessionData) (*Tokens, error) {
	access := uuid.NewString()
	refresh := uuid.NewString()

	accessRaw, err := json.Marshal(accessPayload{Data: data, RefreshToken: refresh})
	if err != nil {
		return nil, err
	}
	refreshRaw, err := json.Marshal(refreshPayload{Data: data, AccessToken: access})
	if err != nil {
		return nil, err
	}

	_, err = ts.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accessKey(access), accessRaw, ts.accessTTL)
		pipe.Set(ctx, refreshKey(refresh), refreshRaw, ts.refreshTTL)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(ts.accessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Access resolves an access token to its session data. Missing tokens and
// unreachable stores both read as no session.
func (ts *TokenStore) Access(ctx context.Context, token string) (*SessionData, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := ts.client.Get(ctx, accessKey(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ts.logger != nil {
			ts.logger.Warn("session store read", slog.Any("error", err))
		}
		return nil, nil
	}
	var payload accessPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil
	}
	return &payload.Data, nil
}

// Refresh rotates the token pair: the presented refresh token and its paired
// access token are revoked and a new pair is issued.
func (ts *TokenStore) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	raw, err := ts.client.Get(ctx, refreshKey(refreshToken)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ts.logger != nil {
			ts.logger.Warn("session store read", slog.Any("error", err))
		}
		return nil, httpx.ErrUnauthenticated
	}
	var payload refreshPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, httpx.ErrUnauthenticated
	}

	_, err = ts.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, accessKey(payload.AccessToken))
		pipe.Del(ctx, refreshKey(refreshToken))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ts.Issue(ctx, payload.Data)
}

// Revoke deletes the access token and its paired refresh token. Idempotent.
func (ts *TokenStore) Revoke(ctx context.Context, accessToken string) error {
	raw, err := ts.client.Get(ctx, accessKey(accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	var payload accessPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ts.client.Del(ctx, accessKey(accessToken)).Err()
	}
	_, err = ts.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, accessKey(accessToken))
		pipe.Del(ctx, refreshKey(payload.RefreshToken))
		return nil
	})
	return err
}

// RevokeForSubject deletes every session belonging to the subject. Used by
// account-level events such as password change and deactivation.
func (ts *TokenStore) RevokeForSubject(ctx context.Context, subjectID int64) error {
	for _, pattern := range []string{accessKey("*"), refreshKey("*")} {
		iter := ts.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			raw, err := ts.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var probe struct {
				Data SessionData `json:"data"`
			}
			if err := json.Unmarshal(raw, &probe); err != nil {
				continue
			}
			if probe.Data.SubjectID == subjectID {
				_ = ts.client.Del(ctx, key).Err()
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// SetLastSelected updates the persisted department context on the live
// session without disturbing its expiry.
func (ts *TokenStore) SetLastSelected(ctx context.Context, accessToken string, departmentID int64) error {
	raw, err := ts.client.Get(ctx, accessKey(accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	var payload accessPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	payload.Data.LastSelectedDepartment = &departmentID
	updated, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return ts.client.Set(ctx, accessKey(accessToken), updated, redis.KeepTTL).Err()
}

// AccessTTL exposes the configured access token lifetime.
func (ts *TokenStore) AccessTTL() time.Duration {
	return ts.accessTTL
}

func accessKey(token string) string {
	return "session:access:" + token
}

func refreshKey(token string) string {
	return "session:refresh:" + token
}
