package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionPrefix   = "session:"
	userIndexPrefix = "session:user:"
)

// RedisStore keeps one hash per session plus a per-user index set used
// for enumeration and maintenance. Redis TTLs implement natural expiry;
// the index set can outlive its members, which PruneIndexes repairs.
type RedisStore struct {
	client *goredis.Client
}

func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, handle string, rec Record, ttl time.Duration) error {
	if handle == "" || rec.UserID <= 0 {
		return fmt.Errorf("invalid session record")
	}

	fields := map[string]interface{}{
		"user_id":       rec.UserID,
		"username":      rec.Username,
		"authenticated": boolField(rec.Authenticated),
		"permanent":     boolField(rec.Permanent),
		"created_at":    rec.CreatedAt.Unix(),
		"last_seen_at":  rec.LastSeenAt.Unix(),
	}

	// The index set outlives any single member: never let a
	// short-lived login shrink the TTL a longer-lived session set.
	indexTTL := ttl
	if current, err := s.client.TTL(ctx, userIndexKey(rec.UserID)).Result(); err == nil && current > indexTTL {
		indexTTL = current
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(handle), fields)
	pipe.Expire(ctx, sessionKey(handle), ttl)
	pipe.SAdd(ctx, userIndexKey(rec.UserID), handle)
	pipe.Expire(ctx, userIndexKey(rec.UserID), indexTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, handle string) (Record, error) {
	values, err := s.client.HGetAll(ctx, sessionKey(handle)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("get session hash: %w", err)
	}
	if len(values) == 0 {
		return Record{}, ErrNoSession
	}
	return parseRecord(values)
}

func (s *RedisStore) Touch(ctx context.Context, handle string, lastSeen time.Time, ttl time.Duration) error {
	exists, err := s.client.Exists(ctx, sessionKey(handle)).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if exists == 0 {
		return ErrNoSession
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(handle), "last_seen_at", lastSeen.Unix())
	pipe.Expire(ctx, sessionKey(handle), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, handle string) error {
	rec, err := s.Get(ctx, handle)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(handle))
	pipe.SRem(ctx, userIndexKey(rec.UserID), handle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID int64) ([]string, error) {
	handles, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	live := make([]string, 0, len(handles))
	for _, handle := range handles {
		exists, err := s.client.Exists(ctx, sessionKey(handle)).Result()
		if err != nil {
			return nil, err
		}
		if exists > 0 {
			live = append(live, handle)
		}
	}
	return live, nil
}

// PruneIndexes drops index members whose session hash has expired and
// returns how many were removed.
func (s *RedisStore) PruneIndexes(ctx context.Context) (int, error) {
	var pruned int
	iter := s.client.Scan(ctx, 0, userIndexPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		handles, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return pruned, fmt.Errorf("prune %s: %w", indexKey, err)
		}
		for _, handle := range handles {
			exists, err := s.client.Exists(ctx, sessionKey(handle)).Result()
			if err != nil {
				return pruned, err
			}
			if exists == 0 {
				if err := s.client.SRem(ctx, indexKey, handle).Err(); err != nil {
					return pruned, err
				}
				pruned++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan session indexes: %w", err)
	}
	return pruned, nil
}

func sessionKey(handle string) string {
	return sessionPrefix + handle
}

func userIndexKey(userID int64) string {
	return userIndexPrefix + strconv.FormatInt(userID, 10)
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func parseRecord(values map[string]string) (Record, error) {
	userID, err := strconv.ParseInt(values["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		return Record{}, fmt.Errorf("corrupt session record: bad user_id %q", values["user_id"])
	}

	createdAt, err := strconv.ParseInt(values["created_at"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("corrupt session record: bad created_at %q", values["created_at"])
	}
	lastSeenAt, err := strconv.ParseInt(values["last_seen_at"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("corrupt session record: bad last_seen_at %q", values["last_seen_at"])
	}

	return Record{
		UserID:        userID,
		Username:      values["username"],
		Authenticated: values["authenticated"] == "1",
		Permanent:     values["permanent"] == "1",
		CreatedAt:     time.Unix(createdAt, 0).UTC(),
		LastSeenAt:    time.Unix(lastSeenAt, 0).UTC(),
	}, nil
}
