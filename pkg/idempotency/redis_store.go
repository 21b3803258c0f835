package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScript performs the check-and-set atomically inside Redis: if the
// key exists it returns the stored payload hash and result, otherwise it
// stores the new record.
//
// KEYS[1] = record key
// ARGV[1] = payload hash
// ARGV[2] = result JSON ("" when none)
// ARGV[3] = TTL seconds (0 = no expiry)
var recordScript = redis.NewScript(`
local existing = redis.call("HGET", KEYS[1], "payload_hash")
if existing then
    local result = redis.call("HGET", KEYS[1], "result") or ""
    return {0, existing, result}
end
redis.call("HSET", KEYS[1], "payload_hash", ARGV[1], "result", ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return {1, ARGV[1], ""}
`)

// RedisStore is a Store backed by Redis, for deployments where the event
// consumers are horizontally scaled and a shared in-memory map will not
// do.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed idempotency store. A zero ttl
// keeps records forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "idempotency:", ttl: ttl}
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, key Key, payload interface{}, result interface{}) (Result, error) {
	if err := key.validate(); err != nil {
		return Result{}, err
	}
	hash, err := hashPayload(payload)
	if err != nil {
		return Result{}, err
	}
	resJSON, err := marshalResult(result)
	if err != nil {
		return Result{}, err
	}

	raw, err := recordScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key.Canonical()},
		hash, string(resJSON), int64(s.ttl.Seconds()),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: redis record: %w", err)
	}
	return parseRecordReply(raw, hash)
}

// parseRecordReply decodes the {accepted, payload_hash, result} triple the
// script returns.
func parseRecordReply(raw interface{}, hash string) (Result, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return Result{}, fmt.Errorf("idempotency: unexpected redis reply %v", raw)
	}

	accepted, ok := reply[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("idempotency: unexpected redis reply %v", raw)
	}
	if accepted == 1 {
		return Result{Accepted: true, PayloadHash: hash}, nil
	}

	storedHash, _ := reply[1].(string)
	storedResult, _ := reply[2].(string)
	existing := record{payloadHash: storedHash}
	if storedResult != "" {
		existing.result = []byte(storedResult)
	}
	return replayResult(existing, hash), nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.keyPrefix+key.Canonical()).Err(); err != nil {
		return fmt.Errorf("idempotency: redis remove: %w", err)
	}
	return nil
}
