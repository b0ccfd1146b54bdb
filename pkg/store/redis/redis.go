// Package redis provides a Redis-backed store. Pending and active
// membership live in hashes (user id -> entry payload) so the advisory
// username travels with the id; bans are a plain set.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinyland-inc/switchyard/pkg/store"
)

const (
	keyPending    = "switchyard:pending"
	keyActive     = "switchyard:active"
	keyBanned     = "switchyard:banned"
	keyTranscript = "switchyard:transcript:" // + user id, list
)

type entryPayload struct {
	Username string `json:"username,omitempty"`
	AddedAt  int64  `json:"added_at"`
}

type Store struct {
	client *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) addEntry(ctx context.Context, key string, userID int64, username string) error {
	data, err := json.Marshal(entryPayload{Username: username, AddedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := s.client.HSet(ctx, key, strconv.FormatInt(userID, 10), data).Err(); err != nil {
		return fmt.Errorf("hset %s %d: %w", key, userID, err)
	}
	return nil
}

func (s *Store) removeEntry(ctx context.Context, key string, userID int64) error {
	if err := s.client.HDel(ctx, key, strconv.FormatInt(userID, 10)).Err(); err != nil {
		return fmt.Errorf("hdel %s %d: %w", key, userID, err)
	}
	return nil
}

func (s *Store) listEntries(ctx context.Context, key string) ([]store.Entry, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	entries := make([]store.Entry, 0, len(raw))
	for field, value := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue // foreign field, skip
		}
		var p entryPayload
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			continue
		}
		entries = append(entries, store.Entry{
			UserID:   id,
			Username: p.Username,
			AddedAt:  time.Unix(p.AddedAt, 0),
		})
	}
	return entries, nil
}

func (s *Store) AddPending(ctx context.Context, userID int64, username string) error {
	return s.addEntry(ctx, keyPending, userID, username)
}

func (s *Store) RemovePending(ctx context.Context, userID int64) error {
	return s.removeEntry(ctx, keyPending, userID)
}

func (s *Store) ListPending(ctx context.Context) ([]store.Entry, error) {
	return s.listEntries(ctx, keyPending)
}

func (s *Store) AddActive(ctx context.Context, userID int64, username string) error {
	return s.addEntry(ctx, keyActive, userID, username)
}

func (s *Store) RemoveActive(ctx context.Context, userID int64) error {
	return s.removeEntry(ctx, keyActive, userID)
}

func (s *Store) ListActive(ctx context.Context) ([]store.Entry, error) {
	return s.listEntries(ctx, keyActive)
}

func (s *Store) Ban(ctx context.Context, userID int64) error {
	if err := s.client.SAdd(ctx, keyBanned, userID).Err(); err != nil {
		return fmt.Errorf("sadd banned %d: %w", userID, err)
	}
	return nil
}

func (s *Store) Unban(ctx context.Context, userID int64) error {
	if err := s.client.SRem(ctx, keyBanned, userID).Err(); err != nil {
		return fmt.Errorf("srem banned %d: %w", userID, err)
	}
	return nil
}

func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	banned, err := s.client.SIsMember(ctx, keyBanned, userID).Result()
	if err != nil {
		return false, fmt.Errorf("sismember banned %d: %w", userID, err)
	}
	return banned, nil
}

func (s *Store) ListBanned(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, keyBanned).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers banned: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) SaveTranscript(ctx context.Context, msg store.TranscriptMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	key := keyTranscript + strconv.FormatInt(msg.UserID, 10)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)
