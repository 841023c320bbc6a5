package shield

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "rampart:exposure:"

	fieldCases        = "cases"
	fieldHighRisk     = "high_risk"
	fieldSessionStart = "session_start"
	fieldLastBreak    = "last_break"
)

// redisStateTTL keeps stale sessions from accumulating; comfortably longer
// than any legal session so an active analyst never loses state mid-shift.
const redisStateTTL = 24 * time.Hour

// RedisStore persists exposure state in a Redis hash per analyst. Counter
// updates ride on HINCRBY, which Redis serializes per key, satisfying the
// per-analyst atomicity requirement without client-side locking.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func redisKey(analystID string) string {
	return redisKeyPrefix + analystID
}

// RecordCase implements Store.
func (s *RedisStore) RecordCase(ctx context.Context, analystID string, highRisk bool) (ExposureState, error) {
	key := redisKey(analystID)
	nowUnix := strconv.FormatInt(s.now().Unix(), 10)

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, fieldSessionStart, nowUnix)
	pipe.HSetNX(ctx, key, fieldLastBreak, nowUnix)
	pipe.HIncrBy(ctx, key, fieldCases, 1)
	if highRisk {
		pipe.HIncrBy(ctx, key, fieldHighRisk, 1)
	}
	pipe.Expire(ctx, key, redisStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return ExposureState{}, fmt.Errorf("shield: record case for %s: %w", analystID, err)
	}

	return s.Snapshot(ctx, analystID)
}

// Snapshot implements Store.
func (s *RedisStore) Snapshot(ctx context.Context, analystID string) (ExposureState, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(analystID)).Result()
	if err != nil {
		return ExposureState{}, fmt.Errorf("shield: load exposure state for %s: %w", analystID, err)
	}
	if len(fields) == 0 {
		return ExposureState{}, nil
	}

	state := ExposureState{
		CasesThisSession: atoiField(fields, fieldCases),
		HighRiskCases:    atoiField(fields, fieldHighRisk),
	}
	if ts := atoi64Field(fields, fieldSessionStart); ts > 0 {
		state.SessionStart = time.Unix(ts, 0).UTC()
	}
	if ts := atoi64Field(fields, fieldLastBreak); ts > 0 {
		state.LastBreak = time.Unix(ts, 0).UTC()
	}
	return state, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, analystID string) (ExposureState, error) {
	key := redisKey(analystID)
	nowUnix := strconv.FormatInt(s.now().Unix(), 10)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fieldSessionStart, nowUnix, fieldLastBreak, nowUnix)
	pipe.Expire(ctx, key, redisStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return ExposureState{}, fmt.Errorf("shield: reset session for %s: %w", analystID, err)
	}
	return s.Snapshot(ctx, analystID)
}

func atoiField(fields map[string]string, name string) int {
	n, _ := strconv.Atoi(fields[name])
	return n
}

func atoi64Field(fields map[string]string, name string) int64 {
	n, _ := strconv.ParseInt(fields[name], 10, 64)
	return n
}
