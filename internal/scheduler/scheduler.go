// Package scheduler runs named jobs on cron or interval schedules.
//
// Each job is single-flight: a trigger that fires while the previous run is
// still in progress is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "sentinel/internal/runtime/supervisor"
	logx "sentinel/pkg/logx"
)

var (
	ErrDuplicateJob = errors.New("scheduler: duplicate job name")
	ErrUnknownJob   = errors.New("scheduler: unknown job")
)

type Job func(ctx context.Context) error

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate parses schedule and checks that the cron form is accepted by the
// runner, so a schedule that passes here cannot fail in Add.
func Validate(schedule string) (ParsedSpec, error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := cronParser.Parse(spec.CronSpec()); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return spec, nil
}

// RunInfo describes the latest run of a job.
type RunInfo struct {
	Started  time.Time
	Duration time.Duration
	Err      string
	Runs     int
	Skipped  int
}

// EntryInfo is a read-only view of a registered job.
type EntryInfo struct {
	Name     string
	Schedule string
	Next     time.Time
	Last     RunInfo
}

type jobDef struct {
	name     string
	schedule string
	spec     ParsedSpec
	timeout  time.Duration
	job      Job

	entry   cron.EntryID
	running atomic.Bool

	mu   sync.Mutex
	last RunInfo
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	tz     string
	loc    *time.Location
	parser cron.Parser

	c    *cron.Cron
	sup  *rtsup.Supervisor
	defs map[string]*jobDef
}

func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		tz:     strings.TrimSpace(timezone),
		parser: cronParser,
		defs:   map[string]*jobDef{},
	}
}

// Add registers a job. Schedules use ParseSchedule syntax. Jobs added while
// running are scheduled immediately.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: job name required")
	}
	if job == nil {
		return fmt.Errorf("scheduler: job %q is nil", name)
	}
	spec, err := Validate(schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.defs[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	d := &jobDef{name: name, schedule: schedule, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

// Reschedule moves a registered job to a new schedule. The new schedule is
// installed before the old entry is removed; on error the job keeps running
// on its previous schedule.
func (s *Service) Reschedule(name, schedule string) error {
	spec, err := Validate(schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if d.schedule == schedule {
		return nil
	}
	prevEntry, prevSpec, prevSchedule := d.entry, d.spec, d.schedule
	d.spec, d.schedule = spec, schedule
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		d.entry, d.spec, d.schedule = prevEntry, prevSpec, prevSchedule
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	if prevEntry != 0 {
		s.c.Remove(prevEntry)
	}
	return nil
}

// Remove unregisters a job. It is a no-op for unknown names.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return
	}
	if s.c != nil && d.entry != 0 {
		s.c.Remove(d.entry)
	}
	delete(s.defs, name)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	clog := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.defs)), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	for _, d := range s.defs {
		d.entry = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	// Stop triggers first, then cancel and wait for in-flight runs.
	cronDone := c.Stop().Done()
	sup.Cancel()
	select {
	case <-cronDone:
	case <-ctx.Done():
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduler stop", logx.Err(err))
	}
	s.log.Info("scheduler stopped")
}

// RunAfter triggers a registered job once after delay, outside its schedule.
func (s *Service) RunAfter(name string, delay time.Duration) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	sup := s.sup
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if sup == nil {
		return errors.New("scheduler not started")
	}
	sup.Go0("run_after."+name, func(ctx context.Context) {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		s.run(ctx, d)
	})
	return nil
}

// Snapshot lists registered jobs sorted by name.
func (s *Service) Snapshot() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		e := EntryInfo{Name: d.name, Schedule: d.schedule}
		if s.c != nil && d.entry != 0 {
			e.Next = s.c.Entry(d.entry).Next
		}
		d.mu.Lock()
		e.Last = d.last
		d.mu.Unlock()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) addCronLocked(d *jobDef) error {
	sup := s.sup
	id, err := s.c.AddFunc(d.spec.CronSpec(), func() {
		if sup == nil {
			return
		}
		s.run(sup.Context(), d)
	})
	if err != nil {
		return err
	}
	d.entry = id
	return nil
}

func (s *Service) run(ctx context.Context, d *jobDef) {
	if !d.running.CompareAndSwap(false, true) {
		d.mu.Lock()
		d.last.Skipped++
		d.mu.Unlock()
		s.log.Info("job still running; skipped", logx.String("job", d.name))
		return
	}
	defer d.running.Store(false)

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", logx.String("job", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d.job(runCtx)
	}()
	took := time.Since(start)

	d.mu.Lock()
	d.last.Started = start
	d.last.Duration = took
	d.last.Runs++
	d.last.Err = ""
	if err != nil {
		d.last.Err = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Info("job ok", logx.String("job", d.name), logx.Duration("took", took))
}

func (s *Service) loadLocationLocked() *time.Location {
	if s.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", s.tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's logr-style calls into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
