package redis

import "time"

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// ── Job keys ──

// jobKey returns the key for a job entity: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// readyKey returns the Sorted Set of claimable jobs for a queue,
// scored by (priority, created_at): conveyor:ready:{queue}
func readyKey(queue string) string { return keyPrefix + "ready:" + queue }

// delayedKey is the Sorted Set of delayed jobs across all queues,
// scored by ScheduledAt.
const delayedKey = keyPrefix + "delayed"

// activeKey is the Sorted Set of active jobs across all queues,
// scored by LeaseExpiresAt. The reaper sweeps it.
const activeKey = keyPrefix + "active"

// ── Queue keys ──

// queueKey returns the key for a queue entity: conveyor:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// pausedKey flags a paused queue: conveyor:paused:{name}
// Kept separate from the queue entity so ClaimNext checks it with a
// plain EXISTS.
func pausedKey(name string) string { return keyPrefix + "paused:" + name }

// queueNamesKey is the Set tracking all queue names for enumeration.
const queueNamesKey = keyPrefix + "queue_names"

// ── Recurring keys ──

// specKey returns the key for a recurring spec entity: conveyor:rec:{id}
func specKey(id string) string { return keyPrefix + "rec:" + id }

// specIDsKey is the Set tracking all recurring spec IDs for enumeration.
const specIDsKey = keyPrefix + "rec_ids"

// specNamesKey maps spec names to IDs for duplicate detection.
const specNamesKey = keyPrefix + "rec_names"

// specLockKey returns the per-spec lock key: conveyor:rec_lock:{id}
func specLockKey(id string) string { return keyPrefix + "rec_lock:" + id }

// specFiredKey returns the (spec, tick) fire marker key. One marker per
// scheduled tick keeps recurring materialization single-shot.
func specFiredKey(id string, tick time.Time) string {
	return keyPrefix + "rec_fired:" + id + ":" + tick.UTC().Format(time.RFC3339Nano)
}

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: conveyor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Sorted Set of DLQ entry IDs scored by FailedAt so
// listings come back newest first.
const dlqIDsKey = keyPrefix + "dlq_ids"
