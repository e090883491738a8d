package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"enrichment-pipeline/internal/models"
)

// ErrMessageNotFound is returned by Archive when the message is not live in the queue.
var ErrMessageNotFound = errors.New("queue message not found")

// RedisQueue is a durable FIFO-ish message store with visibility-timeout leasing.
//
// Each queue keeps a sorted set of message ids scored by the instant they become
// visible, a hash of message bodies, a hash of read counts and an archive hash.
type RedisQueue struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client redis.Cmdable) *RedisQueue {
	return &RedisQueue{
		client: client,
		prefix: "queue:",
		now:    time.Now,
	}
}

type envelope struct {
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func (q *RedisQueue) key(queueName, part string) string {
	return fmt.Sprintf("%s%s:%s", q.prefix, queueName, part)
}

func (q *RedisQueue) keys(queueName string) []string {
	return []string{
		q.key(queueName, "vt"),
		q.key(queueName, "messages"),
		q.key(queueName, "reads"),
		q.key(queueName, "archive"),
	}
}

// Enqueue stores payload and makes it immediately visible. It returns the message id.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	now := q.now()
	body, err := json.Marshal(envelope{Payload: raw, EnqueuedAt: now.UTC()})
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	id, err := q.client.Incr(ctx, q.key(queueName, "seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate message id: %w", err)
	}
	member := strconv.FormatInt(id, 10)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key(queueName, "messages"), member, body)
	pipe.ZAdd(ctx, q.key(queueName, "vt"), redis.Z{Score: float64(now.UnixMilli()), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// Read leases up to maxCount visible messages. Leased messages stay hidden from
// other readers until visibilityTimeout elapses or they are archived.
func (q *RedisQueue) Read(ctx context.Context, queueName string, visibilityTimeout time.Duration, maxCount int) ([]models.Message, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	now := q.now()
	res, err := readScript.Run(ctx, q.client, q.keys(queueName),
		now.UnixMilli(), now.Add(visibilityTimeout).UnixMilli(), maxCount).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", queueName, err)
	}
	arr, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from read script: %T", res)
	}
	if len(arr)%3 != 0 {
		return nil, fmt.Errorf("unexpected read script reply length %d", len(arr))
	}

	out := make([]models.Message, 0, len(arr)/3)
	for i := 0; i < len(arr); i += 3 {
		idStr, _ := arr[i].(string)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse message id %q: %w", idStr, err)
		}
		body, _ := arr[i+1].(string)
		var env envelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", id, err)
		}
		reads, _ := arr[i+2].(int64)
		out = append(out, models.Message{
			ID:         id,
			Payload:    env.Payload,
			EnqueuedAt: env.EnqueuedAt,
			ReadCount:  int(reads),
		})
	}
	return out, nil
}

// Archive permanently removes a message from the live queue, keeping its body in
// the archive hash for inspection.
func (q *RedisQueue) Archive(ctx context.Context, queueName string, id int64) error {
	n, err := archiveScript.Run(ctx, q.client, q.keys(queueName), strconv.FormatInt(id, 10)).Int64()
	if err != nil {
		return fmt.Errorf("archive message %d: %w", id, err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Depth returns the number of live (visible or leased) messages.
func (q *RedisQueue) Depth(ctx context.Context, queueName string) (int64, error) {
	return q.client.ZCard(ctx, q.key(queueName, "vt")).Result()
}

// ArchivedCount returns how many messages have been archived.
func (q *RedisQueue) ArchivedCount(ctx context.Context, queueName string) (int64, error) {
	return q.client.HLen(ctx, q.key(queueName, "archive")).Result()
}

// KEYS: vt, messages, reads, archive. ARGV: now_ms, visible_at_ms, count.
// Replies with a flat list of (id, body, read_count) triples.
var readScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
  local body = redis.call('HGET', KEYS[2], id)
  if body then
    redis.call('ZADD', KEYS[1], ARGV[2], id)
    local reads = redis.call('HINCRBY', KEYS[3], id, 1)
    table.insert(out, id)
    table.insert(out, body)
    table.insert(out, reads)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

// KEYS: vt, messages, reads, archive. ARGV: id.
var archiveScript = redis.NewScript(`
local body = redis.call('HGET', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
if not body then
  return 0
end
redis.call('HSET', KEYS[4], ARGV[1], body)
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)
