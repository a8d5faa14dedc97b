// Package queue is a Redis-backed delay/repeat queue: immediate
// dispatch, fixed delay, fixed-interval repetition, and at-most-one
// concurrent handler invocation per enqueued item.
//
// The broker layout is a sorted set for the delay schedule (member=item
// JSON, score=ready time), a hash each for active items and repeat specs,
// a capped list for failure records, and a SET NX PX per-item lock that
// provides the at-most-one claim. Handler dispatch runs on a
// semaphore-bounded goroutine pool drained by a WaitGroup on shutdown.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Handler processes one dispatched Item. Returning an error marks the fire
// as failed; the item's repeat schedule (if any) continues regardless.
type Handler func(ctx context.Context, item Item) error

// Item is one unit of work enrolled in the queue.
type Item struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Payload       map[string]interface{} `json:"payload"`
	RepeatKey     string                 `json:"repeatKey,omitempty"`
	RepeatEveryMs int64                  `json:"repeatEveryMs,omitempty"`
	EnqueuedAt    time.Time              `json:"enqueuedAt"`
}

// SubmitOpts controls when an Item becomes ready and whether it recurs.
type SubmitOpts struct {
	DelayMs         int64
	RepeatEveryMs   int64
	RepeatKey       string
	FireImmediately bool
}

const (
	keyWaiting   = "queue:waiting"   // ZSET member=itemJSON score=readyAtUnixMs
	keyActive    = "queue:active"    // HASH id -> itemJSON
	keyRepeating = "queue:repeating" // HASH repeatKey -> repeatSpecJSON
	keyFailed    = "queue:failed"    // LIST of failureJSON, capped
	lockPrefix   = "queue:lock:"
	maxFailedLen = 500
)

// Queue is a Redis-backed implementation of the Delay Queue component.
type Queue struct {
	rdb      *redis.Client
	prefix   string
	pollEach time.Duration
	workers  int

	mu       sync.RWMutex
	handlers map[string]Handler

	sem      chan struct{}
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New connects to redisURL and returns a Queue ready to Subscribe/Submit.
// workers bounds the number of handler invocations running concurrently in
// this process.
func New(redisURL string, workers int) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if workers <= 0 {
		workers = 10
	}
	return &Queue{
		rdb:      rdb,
		pollEach: 250 * time.Millisecond,
		workers:  workers,
		handlers: make(map[string]Handler),
		sem:      make(chan struct{}, workers),
		stopCh:   make(chan struct{}),
	}, nil
}

// Subscribe registers a handler for items submitted under name. The queue
// guarantees at-most-one concurrent handler invocation per enqueued item
// (not per name): two different items of the same name may run in
// parallel.
func (q *Queue) Subscribe(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Submit enrols one item. If opts.RepeatEveryMs and opts.RepeatKey are
// both set, Submit also (re-)registers a repeating spec so future fires
// continue without a fresh Submit call.
func (q *Queue) Submit(ctx context.Context, name string, payload map[string]interface{}, opts SubmitOpts) (string, error) {
	id := uuid.NewString()
	item := Item{
		ID:            id,
		Name:          name,
		Payload:       payload,
		RepeatKey:     opts.RepeatKey,
		RepeatEveryMs: opts.RepeatEveryMs,
		EnqueuedAt:    time.Now().UTC(),
	}

	if opts.RepeatKey != "" && opts.RepeatEveryMs > 0 {
		spec := repeatSpec{Name: name, Payload: payload, RepeatKey: opts.RepeatKey, RepeatEveryMs: opts.RepeatEveryMs}
		specJSON, err := json.Marshal(spec)
		if err != nil {
			return "", fmt.Errorf("marshal repeat spec: %w", err)
		}
		if err := q.rdb.HSet(ctx, keyRepeating, opts.RepeatKey, specJSON).Err(); err != nil {
			return "", fmt.Errorf("register repeating spec: %w", err)
		}
	}

	if !opts.FireImmediately && opts.RepeatEveryMs > 0 && opts.DelayMs == 0 {
		opts.DelayMs = opts.RepeatEveryMs
	}

	readyAt := time.Now().Add(time.Duration(opts.DelayMs) * time.Millisecond).UnixMilli()
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal item: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(readyAt), Member: itemJSON}).Err(); err != nil {
		return "", fmt.Errorf("enqueue item: %w", err)
	}
	return id, nil
}

type repeatSpec struct {
	Name          string                 `json:"name"`
	Payload       map[string]interface{} `json:"payload"`
	RepeatKey     string                 `json:"repeatKey"`
	RepeatEveryMs int64                  `json:"repeatEveryMs"`
}

// Run starts the dispatch loop: it polls waiting items whose ready time has
// passed, claims each with a per-item lock, and runs its handler on a
// bounded worker pool. Run blocks until ctx is cancelled, then waits for
// in-flight handlers to finish before returning.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.pollEach)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return nil
		case <-q.stopCh:
			q.wg.Wait()
			return nil
		case <-ticker.C:
			q.dispatchReady(ctx)
		}
	}
}

// Stop signals Run to stop accepting new dispatches; in-flight handlers
// still run to completion.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

func (q *Queue) dispatchReady(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, keyWaiting, &redis.ZRangeBy{
		Min: "0", Max: fmt.Sprintf("%.0f", now), Count: int64(q.workers * 2),
	}).Result()
	if err != nil {
		log.Printf("queue: poll waiting failed: %v", err)
		return
	}

	for _, raw := range members {
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			log.Printf("queue: dropping unparseable item: %v", err)
			q.rdb.ZRem(ctx, keyWaiting, raw)
			continue
		}

		lockKey := lockPrefix + item.ID
		acquired, err := q.rdb.SetNX(ctx, lockKey, "1", 5*time.Minute).Result()
		if err != nil || !acquired {
			continue
		}

		// Claimed: remove from waiting before dispatch so a crash mid-handler
		// doesn't double-fire once the lock expires.
		q.rdb.ZRem(ctx, keyWaiting, raw)

		itemJSON, _ := json.Marshal(item)
		q.rdb.HSet(ctx, keyActive, item.ID, itemJSON)

		q.mu.RLock()
		handler, ok := q.handlers[item.Name]
		q.mu.RUnlock()
		if !ok {
			log.Printf("queue: no handler registered for %q, dropping item %s", item.Name, item.ID)
			q.rdb.HDel(ctx, keyActive, item.ID)
			q.rdb.Del(ctx, lockKey)
			continue
		}

		q.sem <- struct{}{}
		q.wg.Add(1)
		go func(item Item, handler Handler, lockKey string) {
			defer q.wg.Done()
			defer func() { <-q.sem }()
			defer q.rdb.HDel(context.Background(), keyActive, item.ID)
			defer q.rdb.Del(context.Background(), lockKey)

			err := handler(ctx, item)
			if err != nil {
				q.recordFailure(context.Background(), item, err)
			}
			q.rescheduleIfRepeating(context.Background(), item)
		}(item, handler, lockKey)
	}
}

func (q *Queue) rescheduleIfRepeating(ctx context.Context, item Item) {
	if item.RepeatKey == "" {
		return
	}
	specJSON, err := q.rdb.HGet(ctx, keyRepeating, item.RepeatKey).Result()
	if err == redis.Nil {
		return // repetition was cancelled (removeRepeatingByKey)
	}
	if err != nil {
		log.Printf("queue: reschedule lookup failed for %s: %v", item.RepeatKey, err)
		return
	}
	var spec repeatSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		log.Printf("queue: reschedule spec corrupt for %s: %v", item.RepeatKey, err)
		return
	}

	next := Item{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		Payload:       spec.Payload,
		RepeatKey:     spec.RepeatKey,
		RepeatEveryMs: spec.RepeatEveryMs,
		EnqueuedAt:    time.Now().UTC(),
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return
	}
	readyAt := time.Now().Add(time.Duration(spec.RepeatEveryMs) * time.Millisecond).UnixMilli()
	if err := q.rdb.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(readyAt), Member: nextJSON}).Err(); err != nil {
		log.Printf("queue: reschedule enqueue failed for %s: %v", item.RepeatKey, err)
	}
}

type failureRecord struct {
	Item     Item      `json:"item"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

func (q *Queue) recordFailure(ctx context.Context, item Item, cause error) {
	rec := failureRecord{Item: item, Error: cause.Error(), FailedAt: time.Now().UTC()}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, keyFailed, recJSON)
	pipe.LTrim(ctx, keyFailed, 0, maxFailedLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("queue: record failure failed: %v", err)
	}
}
