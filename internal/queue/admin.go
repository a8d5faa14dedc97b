package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListWaiting returns items that are ready to run but not yet claimed.
// Items whose ready time is still in the future are ListDelayed's, so the
// two listings are disjoint, matching QueueStatus's counters.
func (q *Queue) ListWaiting(ctx context.Context) ([]Item, error) {
	now := float64(time.Now().UnixMilli())
	raws, err := q.rdb.ZRangeByScore(ctx, keyWaiting, &redis.ZRangeBy{
		Min: "0", Max: fmt.Sprintf("%.0f", now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	return decodeItems(raws)
}

// ListDelayed returns waiting items whose ready time is still in the future.
func (q *Queue) ListDelayed(ctx context.Context) ([]Item, error) {
	now := float64(time.Now().UnixMilli())
	raws, err := q.rdb.ZRangeByScore(ctx, keyWaiting, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%.0f", now), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list delayed: %w", err)
	}
	return decodeItems(raws)
}

// ListActive returns items currently claimed by an in-flight handler.
func (q *Queue) ListActive(ctx context.Context) ([]Item, error) {
	m, err := q.rdb.HGetAll(ctx, keyActive).Result()
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	items := make([]Item, 0, len(m))
	for _, raw := range m {
		var it Item
		if err := json.Unmarshal([]byte(raw), &it); err == nil {
			items = append(items, it)
		}
	}
	return items, nil
}

// ListRepeating returns the currently registered repeat specs, represented
// as the Item that would be produced on their next fire.
func (q *Queue) ListRepeating(ctx context.Context) ([]Item, error) {
	m, err := q.rdb.HGetAll(ctx, keyRepeating).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeating: %w", err)
	}
	items := make([]Item, 0, len(m))
	for _, raw := range m {
		var spec repeatSpec
		if err := json.Unmarshal([]byte(raw), &spec); err == nil {
			items = append(items, Item{Name: spec.Name, Payload: spec.Payload, RepeatKey: spec.RepeatKey, RepeatEveryMs: spec.RepeatEveryMs})
		}
	}
	return items, nil
}

// ListFailed returns the most recent failure records, newest first.
func (q *Queue) ListFailed(ctx context.Context, limit int64) ([]failureRecord, error) {
	if limit <= 0 {
		limit = maxFailedLen
	}
	raws, err := q.rdb.LRange(ctx, keyFailed, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	out := make([]failureRecord, 0, len(raws))
	for _, raw := range raws {
		var rec failureRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RemoveBy removes every waiting item whose payload's "jobId" field equals
// jobID. Active (in-flight) invocations are left to run to completion.
func (q *Queue) RemoveBy(ctx context.Context, jobID string) (int, error) {
	raws, err := q.rdb.ZRange(ctx, keyWaiting, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("remove by job: %w", err)
	}
	removed := 0
	for _, raw := range raws {
		var it Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			continue
		}
		if id, _ := it.Payload["jobId"].(string); id == jobID {
			if err := q.rdb.ZRem(ctx, keyWaiting, raw).Err(); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RemoveRepeatingByKey cancels future fires of a repeating item. Already
// dispatched (in-flight or already re-enqueued) fires are unaffected.
func (q *Queue) RemoveRepeatingByKey(ctx context.Context, key string) error {
	if err := q.rdb.HDel(ctx, keyRepeating, key).Err(); err != nil {
		return fmt.Errorf("remove repeating %s: %w", key, err)
	}
	return nil
}

// Obliterate wipes every queue key: waiting, active, repeating, and failed.
// It is the backing primitive for the admin "emergency clear" surface.
func (q *Queue) Obliterate(ctx context.Context) error {
	if err := q.rdb.Del(ctx, keyWaiting, keyActive, keyRepeating, keyFailed).Err(); err != nil {
		return fmt.Errorf("obliterate: %w", err)
	}
	return nil
}

// Status is the counter set returned by GET /jobs/queue-status.
type Status struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Repeating int64 `json:"repeating"`
	Failed    int64 `json:"failed"`
}

// QueueStatus reports current counters for each queue state.
func (q *Queue) QueueStatus(ctx context.Context) (Status, error) {
	now := float64(time.Now().UnixMilli())

	waitingTotal, err := q.rdb.ZCard(ctx, keyWaiting).Result()
	if err != nil {
		return Status{}, fmt.Errorf("queue status waiting: %w", err)
	}
	delayed, err := q.rdb.ZCount(ctx, keyWaiting, fmt.Sprintf("(%.0f", now), "+inf").Result()
	if err != nil {
		return Status{}, fmt.Errorf("queue status delayed: %w", err)
	}
	active, err := q.rdb.HLen(ctx, keyActive).Result()
	if err != nil {
		return Status{}, fmt.Errorf("queue status active: %w", err)
	}
	repeating, err := q.rdb.HLen(ctx, keyRepeating).Result()
	if err != nil {
		return Status{}, fmt.Errorf("queue status repeating: %w", err)
	}
	failed, err := q.rdb.LLen(ctx, keyFailed).Result()
	if err != nil {
		return Status{}, fmt.Errorf("queue status failed: %w", err)
	}

	return Status{
		Waiting:   waitingTotal - delayed,
		Active:    active,
		Delayed:   delayed,
		Repeating: repeating,
		Failed:    failed,
	}, nil
}

func decodeItems(raws []string) ([]Item, error) {
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var it Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
