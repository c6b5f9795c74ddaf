package redis

import "strconv"

// Key prefixes for primary entity storage.
const (
	prefixRecord = "outbox:rec:"
	prefixOptOut = "outbox:optout:"
)

// Key prefix for the (action, idempotency_key) unique index.
const uniqueRecordKey = "outbox:u:rec:key:" // + action + ":" + key

// Key prefixes for sorted set indexes.
const (
	zRecordAll    = "outbox:z:rec:all"
	zRecordStatus = "outbox:z:rec:status:" // + status, scored by updated_at
	zRecordDue    = "outbox:z:rec:due:"    // + priority rank, scored by next_attempt_at
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

func idempotencyKey(action, key string) string {
	return uniqueRecordKey + action + ":" + key
}

func statusKey(status string) string {
	return zRecordStatus + status
}

func dueKey(rank int) string {
	return zRecordDue + strconv.Itoa(rank)
}
