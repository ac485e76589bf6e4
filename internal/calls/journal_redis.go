package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is the subset of *redis.Client the journal needs.
type redisStore interface {
	redis.Scripter
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisJournal stores transitions in one Redis list per call, plus a small
// key holding the highest rank seen for that call. Every append refreshes
// both TTLs, so a call's history expires Retention after its last callback.
type RedisJournal struct {
	rdb       redisStore
	prefix    string
	retention time.Duration
}

const defaultKeyPrefix = "callbridge:status:"

var appendScript = redis.NewScript(`
-- KEYS[1] = transition list
-- KEYS[2] = highest rank recorded for the call
-- ARGV[1] = transition json (in order)
-- ARGV[2] = transition json (flagged out of order)
-- ARGV[3] = rank of the new status (0 = unknown)
-- ARGV[4] = retention_ms (0 = keep forever)
--
-- Returns 1 if the stored transition was flagged out of order, else 0.
local rank = tonumber(ARGV[3])
local high = tonumber(redis.call('GET', KEYS[2]) or '0')
local flagged = 0
if rank > 0 and rank < high then
  flagged = 1
end
if flagged == 1 then
  redis.call('RPUSH', KEYS[1], ARGV[2])
else
  redis.call('RPUSH', KEYS[1], ARGV[1])
end
if rank > high then
  redis.call('SET', KEYS[2], ARGV[3])
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  if redis.call('EXISTS', KEYS[2]) == 1 then
    redis.call('PEXPIRE', KEYS[2], ARGV[4])
  end
end
return flagged
`)

func NewRedisJournal(rdb *redis.Client, retention time.Duration) *RedisJournal {
	j := &RedisJournal{prefix: defaultKeyPrefix, retention: retention}
	if rdb != nil {
		j.rdb = rdb
	}
	return j
}

func (j *RedisJournal) key(callSid string) string     { return j.prefix + callSid }
func (j *RedisJournal) rankKey(callSid string) string { return j.prefix + callSid + ":rank" }

func (j *RedisJournal) Append(ctx context.Context, t Transition) (Transition, error) {
	if t.CallSid == "" || t.Status == "" {
		return Transition{}, ErrInvalidTransition
	}
	if j.rdb == nil {
		return Transition{}, fmt.Errorf("calls: journal append: redis client is nil")
	}

	t.OutOfOrder = false
	inOrder, err := json.Marshal(t)
	if err != nil {
		return Transition{}, err
	}
	flagged := t
	flagged.OutOfOrder = true
	outOfOrder, err := json.Marshal(flagged)
	if err != nil {
		return Transition{}, err
	}

	res, err := appendScript.Run(ctx, j.rdb,
		[]string{j.key(t.CallSid), j.rankKey(t.CallSid)},
		inOrder, outOfOrder, t.Status.Rank(), j.retention.Milliseconds(),
	).Int()
	if err != nil {
		return Transition{}, fmt.Errorf("calls: journal append: %w", err)
	}
	t.OutOfOrder = res == 1
	return t, nil
}

func (j *RedisJournal) History(ctx context.Context, callSid string) ([]Transition, error) {
	if j.rdb == nil {
		return nil, fmt.Errorf("calls: journal history: redis client is nil")
	}
	rows, err := j.rdb.LRange(ctx, j.key(callSid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("calls: journal history: %w", err)
	}
	return decodeTransitions(rows)
}

func decodeTransitions(rows []string) ([]Transition, error) {
	out := make([]Transition, 0, len(rows))
	for _, r := range rows {
		var t Transition
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("calls: decode transition: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
