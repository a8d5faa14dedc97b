// Package scheduler is the Scheduler/Worker: it owns the submission
// flow (Job record creation plus Delay Queue enrollment), the execution
// flow (one queue handler shared by all three actions, dispatching to the
// Incremental Analyzer and recording its logs), orphan recovery at
// startup, and graceful shutdown.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"chainwatch/internal/analyzer"
	"chainwatch/internal/config"
	"chainwatch/internal/eventbus"
	"chainwatch/internal/models"
	"chainwatch/internal/queue"
	"chainwatch/internal/repository"
)

// queueName is the single queue topic every Job dispatches through; the
// action itself is carried in the Item payload so one handler can route
// by it.
const queueName = "job.execute"

// Scheduler wires the Job Store, Delay Queue, and Analyzer together.
type Scheduler struct {
	repo  *repository.Repository
	q     *queue.Queue
	deps  analyzer.Deps
	bus   *eventbus.Bus
	clock func() time.Time
}

// New returns a Scheduler ready to Start. deps supplies the Feed Adapter
// and Snapshot Store the Analyzer needs; bus may be nil if no subscriber
// cares about job-lifecycle events.
func New(repo *repository.Repository, q *queue.Queue, deps analyzer.Deps, bus *eventbus.Bus) *Scheduler {
	return &Scheduler{repo: repo, q: q, deps: deps, bus: bus, clock: func() time.Time { return time.Now().UTC() }}
}

// Start registers the execution handler and runs the queue's dispatch
// loop. It blocks until ctx is cancelled, then lets in-flight handlers
// finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.q.Subscribe(queueName, s.handle)
	return s.q.Run(ctx)
}

// Stop signals the queue to stop accepting new dispatches.
func (s *Scheduler) Stop() {
	s.q.Stop()
}

// Submit validates spec, creates the durable Job record, and enrols it in
// the Delay Queue: a scheduled Job gets one Submit with a delay
// computed from scheduledAt; a retry Job gets one immediate Submit plus a
// separate repeating Submit so future fires continue without this process
// calling Submit again.
func (s *Scheduler) Submit(ctx context.Context, spec *models.JobSpec) (*models.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	job, err := s.repo.CreateJob(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	switch job.Type {
	case models.JobTypeScheduled:
		delay := job.ScheduledAt.Sub(s.clock())
		if delay < 0 {
			delay = 0
		}
		if _, err := s.q.Submit(ctx, queueName, itemPayload(job), queue.SubmitOpts{
			DelayMs: delay.Milliseconds(),
		}); err != nil {
			return nil, fmt.Errorf("enqueue scheduled job: %w", err)
		}
	case models.JobTypeRetry:
		intervalMs := job.IntervalDuration().Milliseconds()
		if _, err := s.q.Submit(ctx, queueName, itemPayload(job), queue.SubmitOpts{
			DelayMs: 0,
		}); err != nil {
			return nil, fmt.Errorf("enqueue retry job's immediate fire: %w", err)
		}
		if _, err := s.q.Submit(ctx, queueName, itemPayload(job), queue.SubmitOpts{
			RepeatEveryMs:   intervalMs,
			RepeatKey:       job.ID,
			FireImmediately: false,
		}); err != nil {
			return nil, fmt.Errorf("enqueue retry job's repeating fire: %w", err)
		}
	}

	s.publish("job.submitted", job)
	return job, nil
}

func itemPayload(job *models.Job) map[string]interface{} {
	return map[string]interface{}{"jobId": job.ID}
}

// handle is the single queue.Handler shared by every Job. It reloads the
// Job, guards against a scheduled fire landing early (broker
// misdelivery), dispatches to the matching Analyzer, and records the
// outcome.
func (s *Scheduler) handle(ctx context.Context, item queue.Item) error {
	jobID, _ := item.Payload["jobId"].(string)
	if jobID == "" {
		return fmt.Errorf("queue item missing jobId")
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if err == repository.ErrNotFound {
			log.Printf("[scheduler] job %s no longer exists, dropping fire", jobID)
			return nil
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	// A scheduled fire landing well before its time means the broker
	// misdelivered; decline to run rather than execute early. The queue
	// does not re-fire a consumed item, so the job simply never runs.
	if job.Type == models.JobTypeScheduled && job.ScheduledAt != nil {
		if lead := job.ScheduledAt.Sub(s.clock()); lead > time.Minute {
			msg := fmt.Sprintf("fire arrived %s before scheduledAt, declining to run", lead.Round(time.Second))
			log.Printf("[scheduler] job %s: %s", jobID, msg)
			_ = s.repo.AppendLog(ctx, jobID, models.LogEntry{Timestamp: s.clock(), Level: models.LevelWarn, Message: msg})
			return nil
		}
	}

	if err := s.repo.SetStatus(ctx, jobID, models.StatusRunning, repository.StatusPatch{}); err != nil {
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	_ = s.repo.AppendLog(ctx, jobID, models.LogEntry{Timestamp: s.clock(), Level: models.LevelInfo, Message: "execution started"})
	s.publish("job.started", job)

	sink := analyzer.NewSink()
	stack, runErr := s.runCycle(ctx, job, sink)

	for _, entry := range sink.Entries() {
		_ = s.repo.AppendServiceLog(ctx, jobID, entry)
	}

	now := s.clock()
	if runErr != nil {
		_ = s.repo.AppendLog(ctx, jobID, models.LogEntry{Timestamp: now, Level: models.LevelError, Message: runErr.Error()})
		if err := s.repo.SetStatus(ctx, jobID, models.StatusFailed, repository.StatusPatch{
			ErrorDetails: &models.ErrorDetails{Message: runErr.Error(), Stack: stack, Timestamp: now},
		}); err != nil {
			log.Printf("[scheduler] failed to record job %s failure: %v", jobID, err)
		}
		s.publish("job.failed", job)
		return runErr
	}

	switch job.Type {
	case models.JobTypeScheduled:
		_ = s.repo.AppendLog(ctx, jobID, models.LogEntry{Timestamp: now, Level: models.LevelInfo, Message: "job completed"})
		if err := s.repo.SetStatus(ctx, jobID, models.StatusCompleted, repository.StatusPatch{LastRunAt: &now}); err != nil {
			log.Printf("[scheduler] failed to record job %s completion: %v", jobID, err)
		}
	case models.JobTypeRetry:
		next := now.Add(job.IntervalDuration())
		_ = s.repo.AppendLog(ctx, jobID, models.LogEntry{Timestamp: now, Level: models.LevelInfo, Message: "recurring job completed, next run scheduled"})
		if err := s.repo.SetStatus(ctx, jobID, models.StatusPending, repository.StatusPatch{LastRunAt: &now, NextRunAt: &next}); err != nil {
			log.Printf("[scheduler] failed to record job %s cycle: %v", jobID, err)
		}
	}
	s.publish("job.completed", job)
	return nil
}

// runCycle dispatches to the analyzer, converting a panic inside analysis
// into an ordinary cycle failure so one bad payload cannot take down the
// worker pool.
func (s *Scheduler) runCycle(ctx context.Context, job *models.Job, sink *analyzer.Sink) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("analyzer panic: %v", r)
			log.Printf("[scheduler] job %s: analyzer panic: %v", job.ID, r)
		}
	}()
	return "", s.dispatch(ctx, job, sink)
}

// dispatch routes a Job to its matching Analyzer flavor, pulling the
// address/collection out of the Job's payload (the entity lives under
// "address" for wallets and tokens, "collection" for NFTs).
func (s *Scheduler) dispatch(ctx context.Context, job *models.Job, sink *analyzer.Sink) error {
	switch job.Action {
	case models.ActionWalletSnapshot:
		address, _ := job.Payload["address"].(string)
		_, err := analyzer.AnalyzeWallet(ctx, s.deps, address, job.Network, sink)
		return err
	case models.ActionAnalyzeCoinFlow:
		address, _ := job.Payload["address"].(string)
		th := config.ThresholdsFromPayload(job.Payload)
		watched := config.WatchedFromPayload(job.Payload)
		_, err := analyzer.AnalyzeToken(ctx, s.deps, address, job.Network, sink, th, watched)
		return err
	case models.ActionAnalyzeNFTMoves:
		collection, _ := job.Payload["collection"].(string)
		th := config.ThresholdsFromPayload(job.Payload)
		watched := config.WatchedFromPayload(job.Payload)
		_, err := analyzer.AnalyzeNFT(ctx, s.deps, collection, job.Network, sink, th, watched)
		return err
	default:
		return fmt.Errorf("unknown action %q", job.Action)
	}
}

func (s *Scheduler) publish(eventType string, job *models.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type:      eventType,
		JobID:     job.ID,
		Action:    string(job.Action),
		Timestamp: s.clock(),
	})
}

// RecoverOrphans re-submits retry jobs that look stuck: pending with no
// recent lastRunAt, covering a process restart that lost its repeat
// registrations in the broker.
func (s *Scheduler) RecoverOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	orphans, err := s.repo.FindOrphans(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("find orphans: %w", err)
	}
	for _, job := range orphans {
		intervalMs := job.IntervalDuration().Milliseconds()
		if _, err := s.q.Submit(ctx, queueName, itemPayload(job), queue.SubmitOpts{DelayMs: 0}); err != nil {
			log.Printf("[scheduler] failed to recover orphan job %s: %v", job.ID, err)
			continue
		}
		if _, err := s.q.Submit(ctx, queueName, itemPayload(job), queue.SubmitOpts{
			RepeatEveryMs: intervalMs,
			RepeatKey:     job.ID,
		}); err != nil {
			log.Printf("[scheduler] failed to re-register orphan job %s's repeat: %v", job.ID, err)
		}
	}
	if len(orphans) > 0 {
		log.Printf("[scheduler] recovered %d orphaned retry job(s)", len(orphans))
	}
	return len(orphans), nil
}
