package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ricirt/docqueue/internal/domain"
)

// Hash fields of a stored document. The payload is kept as an opaque JSON
// string so the Lua scripts never decode or re-encode it.
const (
	fieldQueue          = "queue"
	fieldPayload        = "payload"
	fieldLeaseHolder    = "lease_holder"
	fieldLeaseExpiresMs = "lease_expires_ms"
	fieldLeaseMessage   = "lease_message"
	fieldNextRunMs      = "next_run_ms"
	fieldRepeat         = "repeat"
)

// claimScript scans the queue's id set and leases the first claimable document.
//
//	KEYS[1] queue id set
//	ARGV    now_ms, holder, expires_ms, message, doc key prefix
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  local key = ARGV[5] .. id
  if redis.call('EXISTS', key) == 0 then
    redis.call('SREM', KEYS[1], id)
  else
    local f = redis.call('HMGET', key, 'next_run_ms', 'lease_expires_ms')
    local due = (not f[1]) or tonumber(f[1]) <= now
    local free = (not f[2]) or tonumber(f[2]) < now
    if due and free then
      redis.call('HSET', key, 'lease_holder', ARGV[2], 'lease_expires_ms', ARGV[3])
      if ARGV[4] == '' then
        redis.call('HDEL', key, 'lease_message')
      else
        redis.call('HSET', key, 'lease_message', ARGV[4])
      end
      return {id, redis.call('HGETALL', key)}
    end
  end
end
return false
`)

// updateScript applies a partial update to an existing document.
//
//	KEYS[1] doc key
//	ARGV    clear_lease, has_message, message, has_expiry, expires_ms, has_schedule, next_run_ms, repeat
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if ARGV[1] ~= '1' and (ARGV[2] == '1' or ARGV[4] == '1')
   and redis.call('HEXISTS', KEYS[1], 'lease_expires_ms') == 0 then
  return 0
end
if ARGV[6] == '1' then
  redis.call('HSET', KEYS[1], 'next_run_ms', ARGV[7], 'repeat', ARGV[8])
end
if ARGV[1] == '1' then
  redis.call('HDEL', KEYS[1], 'lease_holder', 'lease_expires_ms', 'lease_message')
  return 1
end
if ARGV[2] == '1' then
  if ARGV[3] == '' then
    redis.call('HDEL', KEYS[1], 'lease_message')
  else
    redis.call('HSET', KEYS[1], 'lease_message', ARGV[3])
  end
end
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'lease_expires_ms', ARGV[5])
end
return 1
`)

// deleteScript removes a document and its queue set membership.
//
//	KEYS[1] doc key
//	ARGV    queue set key prefix, id
var deleteScript = redis.NewScript(`
local q = redis.call('HGET', KEYS[1], 'queue')
if not q then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[1] .. q, ARGV[2])
return 1
`)

type redisDocumentRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisDocumentRepository returns a DocumentRepository backed by Redis.
// Documents are hashes at {prefix:collection}:doc:{id}; each queue keeps a
// set of its ids at {prefix:collection}:queue:{name}. The braces are a Redis
// Cluster hash tag: every key of one collection lives in one slot, so the
// scripts may touch document keys they derive from ids at run time.
func NewRedisDocumentRepository(rdb redis.UniversalClient, prefix string) DocumentRepository {
	return &redisDocumentRepository{rdb: rdb, prefix: prefix}
}

func (r *redisDocumentRepository) slot(collection string) string {
	return "{" + r.prefix + ":" + collection + "}"
}

func (r *redisDocumentRepository) docPrefix(collection string) string {
	return r.slot(collection) + ":doc:"
}

func (r *redisDocumentRepository) queuePrefix(collection string) string {
	return r.slot(collection) + ":queue:"
}

func (r *redisDocumentRepository) Insert(ctx context.Context, collection string, doc *domain.Document) (string, error) {
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	fields := map[string]any{
		fieldQueue:   doc.QueueName,
		fieldPayload: string(payload),
	}
	if doc.Schedule != nil {
		fields[fieldNextRunMs] = doc.Schedule.NextRun.UnixMilli()
		fields[fieldRepeat] = string(doc.Schedule.Repeat)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.docPrefix(collection)+id, fields)
		pipe.SAdd(ctx, r.queuePrefix(collection)+doc.QueueName, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (r *redisDocumentRepository) FindAndLease(ctx context.Context, collection, queueName string, now time.Time, lease domain.Lease) (*domain.Document, error) {
	res, err := claimScript.Run(ctx, r.rdb,
		[]string{r.queuePrefix(collection) + queueName},
		now.UnixMilli(), lease.Holder, lease.ExpiresAt.UnixMilli(), lease.Message, r.docPrefix(collection),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNoItem
	}
	if err != nil {
		return nil, fmt.Errorf("find and lease: %w", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("find and lease: unexpected reply %T", res)
	}
	id, _ := reply[0].(string)
	flat, _ := reply[1].([]any)
	return docFromHash(id, flatToMap(flat))
}

func (r *redisDocumentRepository) UpdateByID(ctx context.Context, collection, id string, upd domain.DocumentUpdate) error {
	args := []any{flag(upd.ClearLease), "0", "", "0", "0", "0", "0", ""}
	if upd.LeaseMessage != nil {
		args[1], args[2] = "1", *upd.LeaseMessage
	}
	if upd.LeaseExpiresAt != nil {
		args[3], args[4] = "1", upd.LeaseExpiresAt.UnixMilli()
	}
	if upd.Schedule != nil {
		args[5], args[6], args[7] = "1", upd.Schedule.NextRun.UnixMilli(), string(upd.Schedule.Repeat)
	}

	n, err := updateScript.Run(ctx, r.rdb, []string{r.docPrefix(collection) + id}, args...).Int64()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *redisDocumentRepository) DeleteByID(ctx context.Context, collection, id string) error {
	n, err := deleteScript.Run(ctx, r.rdb,
		[]string{r.docPrefix(collection) + id}, r.queuePrefix(collection), id,
	).Int64()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *redisDocumentRepository) GetByID(ctx context.Context, collection, id string) (*domain.Document, error) {
	fields, err := r.rdb.HGetAll(ctx, r.docPrefix(collection)+id).Result()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return docFromHash(id, fields)
}

func (r *redisDocumentRepository) Count(ctx context.Context, collection, queueName string) (int64, error) {
	n, err := r.rdb.SCard(ctx, r.queuePrefix(collection)+queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// ---- helpers ----

func docFromHash(id string, fields map[string]string) (*domain.Document, error) {
	doc := &domain.Document{ID: id, QueueName: fields[fieldQueue]}
	if err := json.Unmarshal([]byte(fields[fieldPayload]), &doc.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", id, err)
	}

	if v, ok := fields[fieldLeaseExpiresMs]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode lease of %s: %w", id, err)
		}
		doc.Lease = &domain.Lease{
			Holder:    fields[fieldLeaseHolder],
			ExpiresAt: time.UnixMilli(ms).UTC(),
			Message:   fields[fieldLeaseMessage],
		}
	}
	if v, ok := fields[fieldNextRunMs]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode schedule of %s: %w", id, err)
		}
		doc.Schedule = &domain.Schedule{
			NextRun: time.UnixMilli(ms).UTC(),
			Repeat:  domain.Repeat(fields[fieldRepeat]),
		}
	}
	return doc, nil
}

// flatToMap turns an HGETALL script reply (k1, v1, k2, v2, ...) into a map.
func flatToMap(flat []any) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		out[k] = v
	}
	return out
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
