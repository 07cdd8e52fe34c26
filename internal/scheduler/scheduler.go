// Package scheduler implements the worker pool and autonomous-chat loop
// (C4): the only component that ever advances a Job through the
// in_progress turn-by-turn conversation, consulting a per-job termination
// strategy after every turn.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ivanpostolski/one-prompt-agents/internal/agent"
	"github.com/ivanpostolski/one-prompt-agents/internal/jobstore"
	"github.com/ivanpostolski/one-prompt-agents/internal/schema"
	"github.com/ivanpostolski/one-prompt-agents/internal/strategy"
	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
)

// NumWorkers is the default worker pool size.
const NumWorkers = 4

// MaxTurns bounds how many conversation turns autonomousChat will drive a
// single job through before leaving it in_progress for later resumption.
const MaxTurns = 30

// DependencyBackoff is how long a job with unmet dependencies waits before
// being placed back on the queue.
const DependencyBackoff = 300 * time.Second

// Scheduler owns the worker pool draining a jobstore.System's Queue.
type Scheduler struct {
	jobs       *jobstore.System
	agents     map[string]*agent.Agent
	strategies *strategy.Registry
	schemas    *schema.Registry
	logger     telemetry.Logger
	tracer     telemetry.Tracer

	numWorkers int
	backoff    time.Duration

	wg sync.WaitGroup
}

// Option configures optional Scheduler behavior, primarily for tests that
// need a short dependency backoff.
type Option func(*Scheduler)

// WithNumWorkers overrides the default worker pool size.
func WithNumWorkers(n int) Option { return func(s *Scheduler) { s.numWorkers = n } }

// WithBackoff overrides the default dependency-requeue backoff.
func WithBackoff(d time.Duration) Option { return func(s *Scheduler) { s.backoff = d } }

// New constructs a Scheduler bound to the shared job system, the fully
// loaded agent registry, the strategy registry, and the schema registry used
// to validate each turn's final_output.
func New(jobs *jobstore.System, agents map[string]*agent.Agent, strategies *strategy.Registry, schemas *schema.Registry, logger telemetry.Logger, tracer telemetry.Tracer, opts ...Option) *Scheduler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	s := &Scheduler{
		jobs:       jobs,
		agents:     agents,
		strategies: strategies,
		schemas:    schemas,
		logger:     logger,
		tracer:     tracer,
		numWorkers: NumWorkers,
		backoff:    DependencyBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker pool. Each worker pulls job ids off the queue
// until ctx is done or the queue is closed.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Wait blocks until every worker goroutine has returned (i.e. ctx was
// cancelled or the queue was closed) and every pending delayed requeue has
// fired; a requeue still sleeping out its backoff holds Wait until it ends.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		id, err := s.jobs.Queue.Get(ctx)
		if err != nil {
			return
		}
		s.handleJob(ctx, id)
	}
}

func (s *Scheduler) handleJob(ctx context.Context, id string) {
	defer s.jobs.Queue.TaskDone()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "scheduler: job panicked in worker", "job_id", id, "panic", fmt.Sprint(r))
			_ = s.jobs.Store.Mark(id, jobstore.StatusError)
		}
	}()

	unmet, err := s.jobs.Store.UnmetDependencies(id)
	if err != nil {
		s.logger.Error(ctx, "scheduler: job vanished before dispatch", "job_id", id, "error", err.Error())
		return
	}
	if len(unmet) > 0 {
		s.logger.Info(ctx, "scheduler: job waiting for dependencies, requeuing with backoff", "job_id", id, "unmet", unmet)
		s.requeueLater(id)
		return
	}

	if err := s.jobs.Store.Mark(id, jobstore.StatusInProgress); err != nil {
		s.logger.Error(ctx, "scheduler: failed to mark job in_progress", "job_id", id, "error", err.Error())
		return
	}

	if err := s.autonomousChat(ctx, id); err != nil {
		s.logger.Error(ctx, "scheduler: job failed with exception in worker", "job_id", id, "error", err.Error())
		_ = s.jobs.Store.Mark(id, jobstore.StatusError)
	}
}

// requeueLater spawns a detached goroutine that places id back on the queue
// after the configured backoff, mirroring the original's fire-and-forget
// asyncio.create_task(requeue_later(...)) call.
func (s *Scheduler) requeueLater(id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(s.backoff)
		s.jobs.Queue.Put(id)
	}()
}
