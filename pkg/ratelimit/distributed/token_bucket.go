package distributed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Limiter is a token bucket whose state lives in Redis, so every process
// using the same Key draws from one shared budget. It satisfies
// workerpool.Limiter.
type Limiter struct {
	config Config
	keys   keySet
	script *redis.Script
	refund *redis.Script
	logger logrus.FieldLogger
}

// New creates a distributed token bucket. It does not contact Redis; missing
// keys are treated as a full bucket on first use.
func New(config Config) (*Limiter, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	logger := config.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Limiter{
		config: config,
		keys:   newKeySet(config.Key),
		script: redis.NewScript(luaTakeTokens),
		refund: redis.NewScript(luaRefundTokens),
		logger: logger.WithFields(logrus.Fields{
			"limiter":  config.Key,
			"instance": config.InstanceID,
		}),
	}, nil
}

// Allow reports whether an event may happen now across all instances.
func (l *Limiter) Allow(ctx context.Context) bool {
	r, err := l.take(ctx, 1, false)
	if err != nil {
		if l.config.Fallback != nil {
			l.logger.WithError(err).Warn("redis unavailable, using local limiter")
			return l.config.Fallback.Allow()
		}
		return false
	}
	return r.OK
}

// Wait blocks until an event can happen. The token is reserved in Redis
// before sleeping, so concurrent waiters queue behind each other. A wait
// canceled before its delay elapses gives the token back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := l.take(ctx, 1, true)
	if err != nil {
		if l.config.Fallback != nil {
			l.logger.WithError(err).Warn("redis unavailable, using local limiter")
			return l.config.Fallback.Wait(ctx)
		}
		return err
	}
	if r.Delay <= 0 {
		return nil
	}

	timer := time.NewTimer(r.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.giveBack(1)
		return ctx.Err()
	}
}

// giveBack returns n borrowed tokens to the shared bucket. It runs on its own
// timeout because the caller's context is already done.
func (l *Limiter) giveBack(n int) {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.RedisTimeout)
	defer cancel()

	err := l.refund.Run(ctx, l.config.Redis,
		[]string{l.keys.tokens, l.keys.last},
		n,
		timeToFloat(time.Now()),
		l.config.Rate,
		l.config.Burst,
		l.config.KeyTTL.Milliseconds(),
	).Err()
	if err != nil {
		l.logger.WithError(err).Warn("could not return canceled reservation")
	}
}

// Reserve takes n tokens when they are available now. It never borrows
// against future refills, so a denied Reservation carries the delay after
// which n tokens would be present.
func (l *Limiter) Reserve(ctx context.Context, n int) (*Reservation, error) {
	if n <= 0 {
		return &Reservation{OK: true, InstanceID: l.config.InstanceID}, nil
	}
	if n > l.config.Burst {
		return nil, &ConfigError{fmt.Sprintf("request of %d exceeds burst %d", n, l.config.Burst)}
	}
	return l.take(ctx, n, false)
}

// take runs the bucket script. With borrow set, a short bucket goes negative
// and the returned delay is how long the caller must wait for its tokens.
func (l *Limiter) take(ctx context.Context, n int, borrow bool) (*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	borrowArg := 0
	if borrow {
		borrowArg = 1
	}

	result, err := l.script.Run(ctx, l.config.Redis,
		[]string{l.keys.tokens, l.keys.last, l.keys.stats, l.keys.instances},
		n,
		timeToFloat(time.Now()),
		l.config.Rate,
		l.config.Burst,
		borrowArg,
		l.config.KeyTTL.Milliseconds(),
		l.config.InstanceID,
	).Slice()
	if err != nil {
		return nil, &RedisError{"take", err}
	}
	if len(result) != 3 {
		return nil, &RedisError{"take", fmt.Errorf("unexpected script result %v", result)}
	}

	allowed, _ := result[0].(int64)
	remaining, _ := strconv.ParseFloat(fmt.Sprint(result[1]), 64)
	delay, _ := strconv.ParseFloat(fmt.Sprint(result[2]), 64)

	return &Reservation{
		OK:         allowed == 1,
		Delay:      time.Duration(delay * float64(time.Second)),
		Tokens:     n,
		Remaining:  remaining,
		InstanceID: l.config.InstanceID,
	}, nil
}

// Stats returns the shared bucket state.
func (l *Limiter) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	pipe := l.config.Redis.Pipeline()
	tokensCmd := pipe.Get(ctx, l.keys.tokens)
	lastCmd := pipe.Get(ctx, l.keys.last)
	statsCmd := pipe.HGetAll(ctx, l.keys.stats)
	instancesCmd := pipe.SMembers(ctx, l.keys.instances)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, &RedisError{"stats", err}
	}

	tokens := float64(l.config.Burst)
	if v, err := strconv.ParseFloat(tokensCmd.Val(), 64); err == nil {
		tokens = v
	}

	var lastRefill time.Time
	if v, err := strconv.ParseFloat(lastCmd.Val(), 64); err == nil {
		lastRefill = floatToTime(v)
	}

	counters := statsCmd.Val()
	total, _ := strconv.ParseInt(counters["total_requests"], 10, 64)
	allowed, _ := strconv.ParseInt(counters["allowed_requests"], 10, 64)
	denied, _ := strconv.ParseInt(counters["denied_requests"], 10, 64)

	return &Stats{
		Tokens:          tokens,
		LastRefill:      lastRefill,
		TotalRequests:   total,
		AllowedRequests: allowed,
		DeniedRequests:  denied,
		ActiveInstances: instancesCmd.Val(),
	}, nil
}

// Reset deletes the shared state; the next call starts from a full bucket.
func (l *Limiter) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	if err := l.config.Redis.Del(ctx, l.keys.all()...).Err(); err != nil {
		return &RedisError{"reset", err}
	}
	return nil
}

// Close removes this instance from the active instance set. It does not
// close the Redis client, which the caller owns.
func (l *Limiter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.RedisTimeout)
	defer cancel()

	if err := l.config.Redis.SRem(ctx, l.keys.instances, l.config.InstanceID).Err(); err != nil {
		return &RedisError{"close", err}
	}
	return nil
}

// timeToFloat converts time to float64 seconds for Redis storage.
func timeToFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// floatToTime converts float64 seconds back to time.Time.
func floatToTime(f float64) time.Time {
	return time.Unix(0, int64(f*1e9))
}

// Numbers are returned as strings because Redis truncates Lua numbers to integers.
const luaTakeTokens = `
-- KEYS[1]: tokens, KEYS[2]: last refill, KEYS[3]: stats, KEYS[4]: instances
-- ARGV: requested, now, rate, capacity, borrow, ttl_ms, instance

local requested = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])
local borrow = tonumber(ARGV[5]) == 1
local ttl = tonumber(ARGV[6])

local tokens = tonumber(redis.call('GET', KEYS[1]) or capacity)
local last_refill = tonumber(redis.call('GET', KEYS[2]) or now)

local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local delay = 0

if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
elseif borrow then
    delay = (requested - tokens) / rate
    tokens = tokens - requested
    allowed = 1
end

redis.call('SET', KEYS[1], tostring(tokens), 'PX', ttl)
redis.call('SET', KEYS[2], tostring(math.max(now, last_refill)), 'PX', ttl)

redis.call('HINCRBY', KEYS[3], 'total_requests', 1)
if allowed == 1 then
    redis.call('HINCRBY', KEYS[3], 'allowed_requests', 1)
else
    redis.call('HINCRBY', KEYS[3], 'denied_requests', 1)
end
redis.call('PEXPIRE', KEYS[3], ttl)

redis.call('SADD', KEYS[4], ARGV[7])
redis.call('PEXPIRE', KEYS[4], ttl)

return {allowed, tostring(tokens), tostring(delay)}
`

const luaRefundTokens = `
-- KEYS[1]: tokens, KEYS[2]: last refill
-- ARGV: returned, now, rate, capacity, ttl_ms

local returned = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('GET', KEYS[1]) or capacity)
local last_refill = tonumber(redis.call('GET', KEYS[2]) or now)

local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + elapsed * rate + returned)

redis.call('SET', KEYS[1], tostring(tokens), 'PX', ttl)
redis.call('SET', KEYS[2], tostring(math.max(now, last_refill)), 'PX', ttl)

return tostring(tokens)
`
