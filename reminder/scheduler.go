package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tasklane/domain"
)

const (
	DefaultInterval  = 10 * time.Minute
	DefaultLeadTime  = 24 * time.Hour
	DefaultTolerance = 15 * time.Minute

	tickSpanName = "reminder.tick"
)

var (
	// ErrTickInProgress is returned when a tick starts while the previous one
	// is still dispatching.
	ErrTickInProgress = errors.New("reminder tick already running")
	// ErrLeaseHeld is returned when another instance owns the scheduler lease.
	ErrLeaseHeld = errors.New("reminder lease held elsewhere")
)

// Config fixes the polling cadence and the reminder window. Tolerance must
// cover Interval so consecutive windows overlap.
type Config struct {
	Interval  time.Duration
	LeadTime  time.Duration
	Tolerance time.Duration
	Location  *time.Location
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.LeadTime <= 0 {
		c.LeadTime = DefaultLeadTime
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Validate checks that no due date can fall between two windows.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Tolerance < c.Interval {
		return fmt.Errorf("reminder tolerance %s is shorter than interval %s", c.Tolerance, c.Interval)
	}
	return nil
}

// Lease serializes schedulers running in different processes.
type Lease interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// Report counts what one tick did with its candidates.
type Report struct {
	Candidates int
	Sent       int
	Skipped    int
	Failed     int
}

type Option func(*Scheduler)

func WithLease(l Lease) Option { return func(s *Scheduler) { s.lease = l } }

func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// Scheduler periodically notifies owners of tasks about to fall due. Each
// task is notified at most once: the reminder flag is claimed before sending.
type Scheduler struct {
	store    domain.TaskStore
	dir      domain.Directory
	notifier domain.Notifier
	cfg      Config
	lease    Lease
	log      *log.Logger
	now      func() time.Time

	running sync.Mutex
	wg      sync.WaitGroup
}

func New(store domain.TaskStore, dir domain.Directory, notifier domain.Notifier, cfg Config, opts ...Option) (*Scheduler, error) {
	if store == nil || dir == nil || notifier == nil {
		return nil, errors.New("reminder: store, directory and notifier are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		store:    store,
		dir:      dir,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		log:      log.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start ticks every Interval until ctx is cancelled, then waits for the
// running tick to finish. A tick that fires while another is still running
// is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.WithFields(log.Fields{
		"interval":  s.cfg.Interval.String(),
		"leadTime":  s.cfg.LeadTime.String(),
		"tolerance": s.cfg.Tolerance.String(),
	}).Info("reminder scheduler started")

	s.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.launch(ctx)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.Tick(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrTickInProgress):
			s.log.Warn("previous reminder tick still running, skipping")
		case errors.Is(err, ErrLeaseHeld):
			s.log.Debug("reminder lease held by another instance, skipping")
		case errors.Is(err, context.Canceled):
		default:
			s.log.WithError(err).Error("reminder tick failed")
		}
	}()
}

// Tick runs one scan-and-dispatch pass.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrTickInProgress
	}
	defer s.running.Unlock()

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("acquire reminder lease: %w", err)
		}
		if !ok {
			return Report{}, ErrLeaseHeld
		}
		defer release()
	}

	ctx, span := otel.Tracer("tasklane/reminder").Start(ctx, tickSpanName)
	defer span.End()

	start := time.Now()
	now := s.now()
	windowStart := now.Add(s.cfg.LeadTime)
	windowEnd := windowStart.Add(s.cfg.Tolerance)

	candidates, err := s.store.ListDueInWindow(ctx, windowStart, windowEnd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, fmt.Errorf("list due tasks: %w", err)
	}

	rep := Report{Candidates: len(candidates)}
	for _, t := range candidates {
		if ctx.Err() != nil {
			break
		}
		switch s.dispatch(ctx, t) {
		case outcomeSent:
			rep.Sent++
		case outcomeFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
	}

	span.SetAttributes(
		attribute.String("reminder.window_start", windowStart.UTC().Format(time.RFC3339)),
		attribute.String("reminder.window_end", windowEnd.UTC().Format(time.RFC3339)),
		attribute.Int("reminder.candidates", rep.Candidates),
		attribute.Int("reminder.sent", rep.Sent),
		attribute.Int("reminder.skipped", rep.Skipped),
		attribute.Int("reminder.failed", rep.Failed),
	)
	if rep.Failed > 0 {
		span.SetStatus(codes.Error, "reminder delivery failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	s.log.WithFields(log.Fields{
		"candidates":  rep.Candidates,
		"sent":        rep.Sent,
		"skipped":     rep.Skipped,
		"failed":      rep.Failed,
		"duration_ms": float64(time.Since(start)) / float64(time.Millisecond),
	}).Info(tickSpanName)
	return rep, ctx.Err()
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

// dispatch handles one candidate. Failures and panics stay with the candidate.
func (s *Scheduler) dispatch(ctx context.Context, t domain.Task) (out outcome) {
	entry := s.log.WithFields(log.Fields{"task": t.ID, "owner": t.OwnerID})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("reminder dispatch panicked")
			out = outcomeFailed
		}
	}()

	contact, ok, err := s.dir.LookupContact(ctx, t.OwnerID)
	if err != nil {
		entry.WithError(err).Warn("resolve reminder contact")
		return outcomeSkipped
	}
	if !ok {
		entry.Debug("owner has no contact address, reminder postponed")
		return outcomeSkipped
	}

	claimed, err := s.store.MarkReminderSent(ctx, t.ID)
	if err != nil {
		entry.WithError(err).Warn("claim reminder")
		return outcomeSkipped
	}
	if !claimed {
		entry.Debug("reminder already claimed")
		return outcomeSkipped
	}

	subject, body := Render(t, contact, s.cfg.LeadTime, s.cfg.Location)
	if err := s.notifier.Send(ctx, contact.Email, subject, body); err != nil {
		entry.WithError(err).Error("send reminder")
		return outcomeFailed
	}
	entry.Info("reminder sent")
	return outcomeSent
}
