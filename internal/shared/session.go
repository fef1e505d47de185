package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound indicates an unknown or expired session token.
var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side record behind a bearer token.
type Session struct {
	Token    string
	UserID   uuid.UUID
	IssuedAt time.Time
}

type sessionPayload struct {
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// SessionManager stores bearer-token sessions in Redis.
type SessionManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, prefix string, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, prefix: prefix, ttl: ttl}
}

// Issue creates a new session for the user and returns its token.
func (sm *SessionManager) Issue(ctx context.Context, userID uuid.UUID) (Session, error) {
	sess := Session{
		Token:    generateToken(),
		UserID:   userID,
		IssuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(sessionPayload{UserID: userID.String(), IssuedAt: sess.IssuedAt})
	if err != nil {
		return Session{}, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.Token), data, sm.ttl).Err(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Resolve looks up the session behind a token and refreshes its TTL.
func (sm *SessionManager) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	data, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(data, &stored); err != nil {
		return Session{}, err
	}
	userID, err := uuid.Parse(stored.UserID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}

	_ = sm.client.Expire(ctx, sm.redisKey(token), sm.ttl).Err()

	return Session{Token: token, UserID: userID, IssuedAt: stored.IssuedAt}, nil
}

// Revoke deletes a session token.
func (sm *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := sm.client.Del(ctx, sm.redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (sm *SessionManager) redisKey(token string) string {
	return sm.prefix + ":" + token
}

func generateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read does not fail on supported platforms; fall back to a UUID anyway.
		return uuid.NewString()
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
