package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/lockstep/internal/config"
	"github.com/zsiec/lockstep/internal/logger"
)

// publishScript writes the session record and every stream record with the
// same TTL, then drops streams of the instance that were not written.
var publishScript = redis.NewScript(`
	local session_key = KEYS[1]
	local active_key = KEYS[2]
	local instances_key = KEYS[3]
	local ttl = tonumber(ARGV[1])
	local session = ARGV[2]
	local instance = ARGV[3]
	local stream_prefix = ARGV[4]

	redis.call('SET', session_key, session, 'PX', ttl)
	redis.call('SADD', instances_key, instance)

	local keep = {}
	for i = 5, #ARGV, 2 do
		local id = ARGV[i]
		keep[id] = true
		redis.call('SET', stream_prefix .. id, ARGV[i + 1], 'PX', ttl)
		redis.call('SADD', active_key, id)
	end

	local removed = 0
	for _, id in ipairs(redis.call('SMEMBERS', active_key)) do
		if not keep[id] then
			redis.call('DEL', stream_prefix .. id)
			redis.call('SREM', active_key, id)
			removed = removed + 1
		end
	end
	if redis.call('EXISTS', active_key) == 1 then
		redis.call('PEXPIRE', active_key, ttl)
	end
	return removed
`)

// streamsScript returns live stream records and prunes ids whose record expired.
var streamsScript = redis.NewScript(`
	local active_key = KEYS[1]
	local stream_prefix = ARGV[1]
	local result = {}
	local stale = {}

	for _, id in ipairs(redis.call('SMEMBERS', active_key)) do
		local data = redis.call('GET', stream_prefix .. id)
		if data then
			table.insert(result, data)
		else
			table.insert(stale, id)
		end
	end

	for _, id in ipairs(stale) do
		redis.call('SREM', active_key, id)
	end
	return result
`)

// instancesScript returns instances with a live session key and prunes the rest.
var instancesScript = redis.NewScript(`
	local instances_key = KEYS[1]
	local prefix = ARGV[1]
	local result = {}

	for _, instance in ipairs(redis.call('SMEMBERS', instances_key)) do
		if redis.call('EXISTS', prefix .. instance .. ':session') == 1 then
			table.insert(result, instance)
		else
			redis.call('SREM', instances_key, instance)
		end
	end
	return result
`)

// RedisRegistry implements Registry using Redis as backend.
type RedisRegistry struct {
	client redis.UniversalClient
	log    logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry. Keys are namespaced by
// prefix and expire after ttl unless refreshed by a later publish.
func NewRedisRegistry(client redis.UniversalClient, log logger.Logger, prefix string, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if prefix == "" {
		prefix = "lockstep:"
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisRegistry{
		client: client,
		log:    logger.WithComponent(log, "registry"),
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewClient builds a go-redis client from the redis section of the config.
// One address yields a single-node client, several yield a cluster client.
func NewClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

func (r *RedisRegistry) instancesKey() string { return r.prefix + "instances" }

func (r *RedisRegistry) sessionKey(instance string) string {
	return r.prefix + instance + ":session"
}

func (r *RedisRegistry) activeKey(instance string) string {
	return r.prefix + instance + ":streams"
}

func (r *RedisRegistry) streamPrefix(instance string) string {
	return r.prefix + instance + ":stream:"
}

// Publish atomically replaces the instance's records.
func (r *RedisRegistry) Publish(ctx context.Context, session SessionRecord, streams []StreamRecord) error {
	if session.Instance == "" {
		return fmt.Errorf("publish: empty instance id")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	args := make([]interface{}, 0, 4+2*len(streams))
	args = append(args, r.ttl.Milliseconds(), data, session.Instance, r.streamPrefix(session.Instance))
	for _, st := range streams {
		sd, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal stream %s: %w", st.ID, err)
		}
		args = append(args, st.ID, sd)
	}

	keys := []string{r.sessionKey(session.Instance), r.activeKey(session.Instance), r.instancesKey()}
	removed, err := publishScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to publish session: %w", err)
	}
	if removed > 0 {
		r.log.WithFields(map[string]interface{}{
			"instance": session.Instance,
			"removed":  removed,
		}).Debug("Dropped stale stream records")
	}
	return nil
}

// Withdraw removes every record of the instance.
func (r *RedisRegistry) Withdraw(ctx context.Context, instance string) error {
	ids, err := r.client.SMembers(ctx, r.activeKey(instance)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list streams of %s: %w", instance, err)
	}

	keys := []string{r.sessionKey(instance), r.activeKey(instance)}
	for _, id := range ids {
		keys = append(keys, r.streamPrefix(instance)+id)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, r.instancesKey(), instance)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to withdraw %s: %w", instance, err)
	}
	return nil
}

// Session returns the instance's session record.
func (r *RedisRegistry) Session(ctx context.Context, instance string) (*SessionRecord, error) {
	data, err := r.client.Get(ctx, r.sessionKey(instance)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

// Streams returns the instance's stream records in session order.
func (r *RedisRegistry) Streams(ctx context.Context, instance string) ([]StreamRecord, error) {
	res, err := streamsScript.Run(ctx, r.client, []string{r.activeKey(instance)}, r.streamPrefix(instance)).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	streams := make([]StreamRecord, 0, len(res))
	for _, data := range res {
		var rec StreamRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			r.log.WithError(err).Warn("Failed to unmarshal stream record")
			continue
		}
		streams = append(streams, rec)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Position < streams[j].Position })
	return streams, nil
}

// Instances lists instances with a live session record.
func (r *RedisRegistry) Instances(ctx context.Context) ([]string, error) {
	res, err := instancesScript.Run(ctx, r.client, []string{r.instancesKey()}, r.prefix).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	sort.Strings(res)
	return res, nil
}

// Close closes the underlying client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
