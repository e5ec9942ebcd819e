package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iolipix/JuriNapse-sub001/internal/domain"
)

// DefaultKeyPrefix namespaces every key written by RedisUserStore.
const DefaultKeyPrefix = "graph:"

const (
	fieldID             = "id"
	fieldUsername       = "username"
	fieldFirstName      = "first_name"
	fieldLastName       = "last_name"
	fieldAvatarRef      = "avatar_ref"
	fieldBio            = "bio"
	fieldOrganization   = "organization"
	fieldHidden         = "hidden"
	fieldDeleted        = "deleted"
	fieldFollowingCount = "following_count"
	fieldFollowersCount = "followers_count"
)

var redisCounterFields = map[domain.Relation]string{
	domain.RelationFollowing: fieldFollowingCount,
	domain.RelationFollowers: fieldFollowersCount,
}

// RedisUserStore implements UserStore on Redis. Each user is a hash holding
// profile fields and counters; each set is a sorted set scored by insertion
// time. Set and counter changes run inside Lua scripts so they are atomic.
//
// Username and index maintenance touches keys derived inside the scripts,
// so the store targets a single Redis node rather than a cluster.
type RedisUserStore struct {
	client *redis.Client
	prefix string
}

// NewRedisUserStore creates a store using client. An empty prefix selects
// DefaultKeyPrefix.
func NewRedisUserStore(client *redis.Client, prefix string) *RedisUserStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisUserStore{client: client, prefix: prefix}
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, address, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *RedisUserStore) userKey(id string) string { return s.prefix + "user:" + id }

func (s *RedisUserStore) setKey(id string, rel domain.Relation) string {
	return s.prefix + "user:" + id + ":" + string(rel)
}

func (s *RedisUserStore) usernamePrefix() string { return s.prefix + "username:" }

func (s *RedisUserStore) usernameKey(name string) string { return s.usernamePrefix() + name }

func (s *RedisUserStore) indexKey() string { return s.prefix + "users" }

// createScript inserts the user hash, claims the username and indexes the id.
// Returns 1 on success and 0 if the id or username is taken.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("ZADD", KEYS[3], 0, ARGV[1])
return 1
`)

// updateScript overwrites profile fields, moving the username claim when the
// username changes. Returns 1 on success, 0 if the new username is taken and
// -1 if the user is missing or deleted.
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("HGET", KEYS[1], "deleted") == "1" then
  return -1
end
local old = redis.call("HGET", KEYS[1], "username")
if old ~= ARGV[2] then
  if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
    return 0
  end
  if old then
    redis.call("DEL", ARGV[3] .. old)
  end
end
redis.call("HSET", KEYS[1], unpack(ARGV, 4))
return 1
`)

// deleteScript flags the user deleted, releases its username and removes it
// from the scan index. Returns 0 if the user is missing or already deleted.
var deleteScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("HGET", KEYS[1], "deleted") == "1" then
  return 0
end
local name = redis.call("HGET", KEYS[1], "username")
if name then
  redis.call("DEL", ARGV[2] .. name)
end
redis.call("HSET", KEYS[1], "deleted", "1")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// addMemberScript adds a member and bumps the counter only if it was new.
// Returns 1 if added, 0 if already present, -1 if the user is missing.
var addMemberScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("HGET", KEYS[1], "deleted") == "1" then
  return -1
end
local added = redis.call("ZADD", KEYS[2], "NX", ARGV[2], ARGV[1])
if added == 1 and ARGV[3] ~= "" then
  redis.call("HINCRBY", KEYS[1], ARGV[3], 1)
end
return added
`)

// removeMemberScript removes a member and lowers the counter, never below 0.
// Returns 1 if removed, 0 if absent, -1 if the user is missing.
var removeMemberScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("HGET", KEYS[1], "deleted") == "1" then
  return -1
end
local removed = redis.call("ZREM", KEYS[2], ARGV[1])
if removed == 1 and ARGV[2] ~= "" then
  local val = tonumber(redis.call("HGET", KEYS[1], ARGV[2]) or "0")
  if val and val > 0 then
    redis.call("HINCRBY", KEYS[1], ARGV[2], -1)
  end
end
return removed
`)

// recountScript sets both counters to the cardinality of their sets.
var recountScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("HGET", KEYS[1], "deleted") == "1" then
  return 0
end
redis.call("HSET", KEYS[1],
  "following_count", redis.call("ZCARD", KEYS[2]),
  "followers_count", redis.call("ZCARD", KEYS[3]))
return 1
`)

func profileArgs(rec *domain.UserRecord) []interface{} {
	hidden := "0"
	if rec.Hidden {
		hidden = "1"
	}
	return []interface{}{
		fieldUsername, rec.Username,
		fieldFirstName, rec.FirstName,
		fieldLastName, rec.LastName,
		fieldAvatarRef, rec.AvatarRef,
		fieldBio, rec.Bio,
		fieldOrganization, rec.Organization,
		fieldHidden, hidden,
	}
}

// Create inserts a new user with empty sets. An empty ID gets a UUID.
func (s *RedisUserStore) Create(ctx context.Context, rec *domain.UserRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	args := []interface{}{rec.ID, rec.Username, fieldID, rec.ID}
	args = append(args, profileArgs(rec)...)
	args = append(args, fieldDeleted, "0", fieldFollowingCount, 0, fieldFollowersCount, 0)

	res, err := createScript.Run(ctx, s.client,
		[]string{s.userKey(rec.ID), s.usernameKey(rec.Username), s.indexKey()}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis create user: %w", err)
	}
	if res == 0 {
		return ErrUserExists
	}
	return nil
}

// UpdateProfile overwrites the profile fields of a live user.
func (s *RedisUserStore) UpdateProfile(ctx context.Context, rec *domain.UserRecord) error {
	args := []interface{}{rec.ID, rec.Username, s.usernamePrefix()}
	args = append(args, profileArgs(rec)...)

	res, err := updateScript.Run(ctx, s.client,
		[]string{s.userKey(rec.ID), s.usernameKey(rec.Username)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis update user: %w", err)
	}
	switch res {
	case -1:
		return ErrUserNotFound
	case 0:
		return ErrUserExists
	}
	return nil
}

// MarkDeleted flags the user deleted. Its sets are kept for inspection.
func (s *RedisUserStore) MarkDeleted(ctx context.Context, id string) error {
	res, err := deleteScript.Run(ctx, s.client,
		[]string{s.userKey(id), s.indexKey()}, id, s.usernamePrefix()).Int64()
	if err != nil {
		return fmt.Errorf("redis delete user: %w", err)
	}
	if res == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetByID loads a live user with its relationship sets.
func (s *RedisUserStore) GetByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	var (
		hash      *redis.MapStringStringCmd
		following *redis.StringSliceCmd
		followers *redis.StringSliceCmd
		blocked   *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		hash = p.HGetAll(ctx, s.userKey(id))
		following = p.ZRange(ctx, s.setKey(id, domain.RelationFollowing), 0, -1)
		followers = p.ZRange(ctx, s.setKey(id, domain.RelationFollowers), 0, -1)
		blocked = p.ZRange(ctx, s.setKey(id, domain.RelationBlocked), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load user: %w", err)
	}

	rec, ok := recordFromHash(hash.Val())
	if !ok {
		return nil, ErrUserNotFound
	}
	rec.Following = append(rec.Following, following.Val()...)
	rec.Followers = append(rec.Followers, followers.Val()...)
	rec.BlockedUsers = append(rec.BlockedUsers, blocked.Val()...)
	return rec, nil
}

// GetByUsername loads a live user by exact username.
func (s *RedisUserStore) GetByUsername(ctx context.Context, username string) (*domain.UserRecord, error) {
	id, err := s.client.Get(ctx, s.usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("redis lookup username: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetProfiles returns profiles for ids in input order.
func (s *RedisUserStore) GetProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	if len(ids) == 0 {
		return []domain.Profile{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.userKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load profiles: %w", err)
	}

	profiles := make([]domain.Profile, 0, len(ids))
	for _, cmd := range cmds {
		if rec, ok := recordFromHash(cmd.Val()); ok {
			profiles = append(profiles, rec.Profile())
		}
	}
	return profiles, nil
}

// ExistingIDs returns the subset of ids that name live users.
func (s *RedisUserStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HMGet(ctx, s.userKey(id), fieldID, fieldDeleted)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis check ids: %w", err)
	}

	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 || vals[0] == nil {
			continue
		}
		if deleted, _ := vals[1].(string); deleted == "1" {
			continue
		}
		existing[ids[i]] = true
	}
	return existing, nil
}

// AddMember adds memberID to the set, bumping the counter when it was new.
func (s *RedisUserStore) AddMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error) {
	if err := validRelation(rel); err != nil {
		return false, err
	}

	score := float64(time.Now().UnixMicro())
	res, err := addMemberScript.Run(ctx, s.client,
		[]string{s.userKey(userID), s.setKey(userID, rel)},
		memberID, score, redisCounterFields[rel]).Int64()
	if err != nil {
		return false, fmt.Errorf("redis add %s member: %w", rel, err)
	}
	if res < 0 {
		return false, ErrUserNotFound
	}
	return res == 1, nil
}

// RemoveMember removes memberID from the set, lowering the counter.
func (s *RedisUserStore) RemoveMember(ctx context.Context, userID string, rel domain.Relation, memberID string) (bool, error) {
	if err := validRelation(rel); err != nil {
		return false, err
	}

	res, err := removeMemberScript.Run(ctx, s.client,
		[]string{s.userKey(userID), s.setKey(userID, rel)},
		memberID, redisCounterFields[rel]).Int64()
	if err != nil {
		return false, fmt.Errorf("redis remove %s member: %w", rel, err)
	}
	if res < 0 {
		return false, ErrUserNotFound
	}
	return res == 1, nil
}

// Recount sets both counters to the cardinality of their sets.
func (s *RedisUserStore) Recount(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		err := recountScript.Run(ctx, s.client, []string{
			s.userKey(id),
			s.setKey(id, domain.RelationFollowing),
			s.setKey(id, domain.RelationFollowers),
		}).Err()
		if err != nil {
			return fmt.Errorf("redis recount %s: %w", id, err)
		}
	}
	return nil
}

// ScanIDs pages through live user ids in lexical order.
func (s *RedisUserStore) ScanIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	lower := "-"
	if afterID != "" {
		lower = "(" + afterID
	}
	ids, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{
		Min:   lower,
		Max:   "+",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan ids: %w", err)
	}
	return ids, nil
}

// Close closes the Redis client.
func (s *RedisUserStore) Close() error {
	return s.client.Close()
}

func recordFromHash(h map[string]string) (*domain.UserRecord, bool) {
	if len(h) == 0 || h[fieldID] == "" || h[fieldDeleted] == "1" {
		return nil, false
	}
	following, _ := strconv.ParseInt(h[fieldFollowingCount], 10, 64)
	followers, _ := strconv.ParseInt(h[fieldFollowersCount], 10, 64)
	return &domain.UserRecord{
		ID:             h[fieldID],
		Username:       h[fieldUsername],
		FirstName:      h[fieldFirstName],
		LastName:       h[fieldLastName],
		AvatarRef:      h[fieldAvatarRef],
		Bio:            h[fieldBio],
		Organization:   h[fieldOrganization],
		FollowingCount: following,
		FollowersCount: followers,
		Hidden:         h[fieldHidden] == "1",
		Following:      []string{},
		Followers:      []string{},
		BlockedUsers:   []string{},
	}, true
}

// Ensure interface is satisfied at compile time.
var _ UserStore = (*RedisUserStore)(nil)
