// Package relwatch watches a publication page for new releases of one
// tabular dataset and ingests each release exactly once.
//
// A run resolves the published releases, compares them with the committed
// state, and only for a genuinely new release downloads the file, extracts
// and validates its table, writes the cleaned CSV and finally commits the
// new state. Any failure before the commit leaves state untouched, so the
// next run retries the same release.
//
//	resolve → detect → fetch (raw blob) → extract → validate → clean CSV → commit
//
// Usage:
//
//	svc, err := relwatch.New(cfg, logger)
//	defer svc.Close()
//	res := svc.RunOnce(ctx)        // one poll
//	svc.Schedule(ctx)              // or poll on cfg.Schedule.Interval
package relwatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/relwatch/dbopen"
	"github.com/hazyhaar/relwatch/horosafe"
	"github.com/hazyhaar/relwatch/idgen"
	"github.com/hazyhaar/relwatch/relwatch/internal/artifact"
	"github.com/hazyhaar/relwatch/relwatch/internal/detect"
	"github.com/hazyhaar/relwatch/relwatch/internal/fetch"
	"github.com/hazyhaar/relwatch/relwatch/internal/resolve"
	"github.com/hazyhaar/relwatch/relwatch/internal/schedule"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
	"github.com/hazyhaar/relwatch/relwatch/internal/store"
	"github.com/hazyhaar/relwatch/relwatch/internal/table"
	"github.com/hazyhaar/relwatch/relwatch/internal/validate"
)

// Resolver returns the releases currently published. An empty result
// means nothing matched this cycle.
type Resolver interface {
	Resolve(ctx context.Context) ([]Version, error)
}

// Option configures a Service.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	resolver   Resolver
	state      state.Store
	ids        idgen.Generator
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// WithRegisterer registers the service metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithResolver replaces the JSON-LD page resolver.
func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithStateStore replaces the configured state backend.
func WithStateStore(s StateStore) Option {
	return func(o *options) { o.state = s }
}

// WithIDGenerator sets the run ID generator. Default: UUIDv7 prefixed "run_".
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBackoffSleep replaces the wait between fetch attempts.
func WithBackoffSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// Service is the ingest coordinator.
type Service struct {
	config    *Config
	logger    *slog.Logger
	store     *store.Store
	state     state.Store
	resolver  Resolver
	fetcher   *fetch.Fetcher
	artifacts *artifact.Store
	metrics   *Metrics
	newID     idgen.Generator
	now       func() time.Time

	mu sync.Mutex // held for the duration of a run
}

// New creates a Service. Opens the SQLite database (run log, and state
// when the sqlite backend is selected).
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := options{
		ids: idgen.Prefixed("run_", idgen.Default),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := store.Open(cfg.Storage.DBPath,
		dbopen.WithBusyTimeout(int(cfg.Storage.BusyTimeout.Milliseconds())),
		dbopen.WithSynchronous(strings.ToUpper(cfg.Storage.Synchronous)),
	)
	if err != nil {
		return nil, fmt.Errorf("relwatch: open store: %w", err)
	}

	svc := &Service{
		config:  cfg,
		logger:  logger,
		store:   s,
		metrics: NewMetrics(o.registerer),
		newID:   o.ids,
		now:     o.now,
	}

	switch {
	case o.state != nil:
		svc.state = o.state
	case cfg.Storage.StateBackend == BackendFile:
		svc.state = state.NewFileStore(cfg.Storage.StateFile)
	default:
		svc.state = s.State()
	}

	validator := horosafe.ValidateURL
	if cfg.Fetch.AllowPrivate {
		validator = horosafe.AllowAll
	}
	svc.fetcher = fetch.New(fetch.Config{
		Attempts:     cfg.Fetch.Attempts,
		BaseDelay:    cfg.Fetch.BaseDelay,
		MaxDelay:     cfg.Fetch.MaxDelay,
		Jitter:       cfg.Fetch.Jitter,
		Timeout:      cfg.Fetch.Timeout,
		MaxBytes:     cfg.Fetch.MaxBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		URLValidator: validator,
		Sleep:        o.sleep,
		OnAttempt:    svc.onAttempt,
	})

	svc.artifacts = artifact.New(artifact.Config{
		RawDir:      cfg.Storage.RawDir,
		CleanDir:    cfg.Storage.CleanDir,
		RawPrefix:   cfg.Storage.RawPrefix,
		CleanPrefix: cfg.Storage.CleanPrefix,
	})

	svc.resolver = o.resolver
	if svc.resolver == nil {
		svc.resolver = resolve.New(resolve.Config{
			PageURL:        cfg.Source.PageURL,
			EncodingFormat: cfg.Source.EncodingFormat,
			Name:           cfg.Source.Name,
		}, svc.fetcher, logger)
	}

	return svc, nil
}

// Close closes the database.
func (s *Service) Close() error {
	return s.store.Close()
}

// Config returns the effective configuration (defaults applied).
func (s *Service) Config() Config {
	return *s.config
}

// Metrics returns the service collectors.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// State returns the committed state.
func (s *Service) State(ctx context.Context) (Cached, error) {
	return s.state.Load(ctx)
}

// History returns the most recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*RunEntry, error) {
	return s.store.RunHistory(ctx, limit)
}

// RunCounts returns the number of logged runs per outcome.
func (s *Service) RunCounts(ctx context.Context) (map[string]int, error) {
	return s.store.CountRuns(ctx)
}

// Schedule runs RunOnce now and then every cfg.Schedule.Interval until ctx
// is cancelled.
func (s *Service) Schedule(ctx context.Context) {
	schedule.New(func(ctx context.Context) {
		s.RunOnce(ctx)
	}, schedule.Config{Interval: s.config.Schedule.Interval}, s.logger).Run(ctx)
}

// RunOnce performs one poll of the pipeline and returns its single outcome.
// It never panics and never returns a bare error: failures are reported as
// a Result with OutcomeFailed. A call made while another run is in
// progress returns OutcomeSkipped immediately.
func (s *Service) RunOnce(ctx context.Context) Result {
	r := Result{RunID: s.newID(), Stage: StageIdle, StartedAt: s.now()}
	log := s.logger.With("run_id", r.RunID)
	ctx = context.WithValue(ctx, runLoggerKey{}, log)
	start := time.Now()

	if !s.mu.TryLock() {
		r.Outcome, r.Stage, r.Reason = OutcomeSkipped, StageDone, "run already in progress"
		s.finish(ctx, &r, start, log)
		return r
	}
	defer s.mu.Unlock()

	func() {
		defer func() {
			if p := recover(); p != nil {
				s.fail(&r, fmt.Errorf("relwatch: panic in %s: %v", r.Stage, p))
			}
		}()
		s.pipeline(ctx, &r, log)
	}()

	s.finish(ctx, &r, start, log)
	return r
}

func (s *Service) pipeline(ctx context.Context, r *Result, log *slog.Logger) {
	s.enter(r, log, StageResolving)
	versions, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.fail(r, &ResolutionError{Source: s.config.Source.PageURL, Err: err})
		return
	}
	log.Debug("relwatch: resolved", "releases", len(versions))

	s.enter(r, log, StageDetecting)
	cached, err := s.state.Load(ctx)
	if err != nil {
		s.fail(r, &StateError{Op: "load", Err: err})
		return
	}
	if len(versions) == 0 {
		s.skip(r, "no matching distribution published")
		return
	}
	best, ok := detect.Pick(versions, cached)
	v := best.Version
	r.Version = &v
	if !ok {
		switch best.Decision {
		case detect.Unchanged:
			s.skip(r, fmt.Sprintf("unchanged: modification time advanced but locator is still %s", v.ContentLocator))
		default:
			s.skip(r, fmt.Sprintf("stale: no release newer than %s", cached.LastModifiedAt.Format(time.RFC3339)))
		}
		return
	}
	log.Debug("relwatch: new release", "modified", v.ModifiedAt, "locator", v.ContentLocator)

	s.enter(r, log, StageFetching)
	raw, err := s.fetcher.Download(ctx, v, s.artifacts)
	if raw != nil {
		r.FetchAttempts = raw.Attempts
		r.RawPath = raw.Path
	}
	if err != nil {
		s.fail(r, s.downloadError(r, v, err))
		return
	}
	log.Debug("relwatch: raw stored", "path", raw.Path, "sha256", raw.SHA256, "reused", raw.Reused)

	s.enter(r, log, StageExtracting)
	tbl, err := table.Extract(bytes.NewReader(raw.Body), table.Options{
		Sheet:    s.config.Table.Sheet,
		Sentinel: s.config.Table.Sentinel,
		KeyName:  s.config.Table.KeyName,
	})
	if err != nil {
		s.fail(r, &FormatError{Err: err})
		return
	}
	r.RowCount = tbl.RowCount()

	s.enter(r, log, StageValidating)
	if err := validate.Validate(tbl, cached); err != nil {
		var ve *validate.Error
		if !errors.As(err, &ve) {
			s.fail(r, err)
			return
		}
		r.Outcome, r.Stage = OutcomeRejected, StageDone
		r.Reasons = ve.Reasons
		r.Reason = fmt.Sprintf("rejected: %d check(s) failed", len(ve.Reasons))
		r.Err = &RejectedError{Reasons: ve.Reasons}
		return
	}

	s.enter(r, log, StageCommitting)
	path, err := s.artifacts.PutClean(v, tbl.WriteCSV)
	if err != nil {
		s.fail(r, fmt.Errorf("%w: %w", ErrArtifactWrite, err))
		return
	}
	r.ArtifactPath = path

	next := state.Cached{
		LastModifiedAt:     v.ModifiedAt,
		LastContentLocator: v.ContentLocator,
		Fingerprint:        tbl.Keys(),
		RowCount:           tbl.RowCount(),
	}
	if err := s.state.Commit(ctx, cached, next); err != nil {
		if errors.Is(err, state.ErrConflict) {
			s.fail(r, fmt.Errorf("relwatch: commit: %w", err))
		} else {
			s.fail(r, &StateError{Op: "commit", Err: err})
		}
		return
	}
	r.Outcome, r.Stage = OutcomeCommitted, StageDone
	r.Reason = "committed " + v.String()
}

// downloadError maps a fetch failure onto the error taxonomy.
func (s *Service) downloadError(r *Result, v Version, err error) error {
	if errors.Is(err, fetch.ErrPersist) {
		return fmt.Errorf("%w: %w", ErrArtifactWrite, err)
	}
	ne := &NetworkError{URL: v.ContentLocator, Err: err}
	var fe *fetch.Error
	if errors.As(err, &fe) {
		ne.Attempts, ne.StatusCode = fe.Attempts, fe.StatusCode
		r.FetchAttempts = fe.Attempts
	}
	return ne
}

func (s *Service) enter(r *Result, log *slog.Logger, st Stage) {
	log.Debug("relwatch: stage", "from", r.Stage, "to", st)
	r.Stage = st
}

func (s *Service) skip(r *Result, reason string) {
	r.Outcome, r.Stage, r.Reason = OutcomeSkipped, StageDone, reason
}

// fail keeps r.Stage at the stage that failed.
func (s *Service) fail(r *Result, err error) {
	r.Outcome, r.Err, r.Reason = OutcomeFailed, err, err.Error()
}

// finish logs, counts and records the outcome.
func (s *Service) finish(ctx context.Context, r *Result, start time.Time, log *slog.Logger) {
	r.Duration = time.Since(start)

	attrs := []any{"outcome", r.Outcome, "stage", r.Stage, "reason", r.Reason, "duration", r.Duration}
	if r.Version != nil {
		attrs = append(attrs, "modified", r.Version.ModifiedAt, "locator", r.Version.ContentLocator)
	}
	switch r.Outcome {
	case OutcomeFailed:
		log.Error("relwatch: run failed", append(attrs, "error_kind", ErrorKind(r.Err))...)
	case OutcomeRejected:
		log.Warn("relwatch: release rejected", append(attrs, "reasons", r.Reasons)...)
	default:
		log.Info("relwatch: run done", attrs...)
	}

	s.metrics.observeRun(*r)

	entry := &RunEntry{
		ID:            r.RunID,
		Outcome:       string(r.Outcome),
		Stage:         string(r.Stage),
		Reason:        r.Reason,
		ErrorKind:     ErrorKind(r.Err),
		RawPath:       r.RawPath,
		ArtifactPath:  r.ArtifactPath,
		FetchAttempts: r.FetchAttempts,
		DurationMs:    r.Duration.Milliseconds(),
		StartedAt:     r.StartedAt.UnixMilli(),
	}
	if r.Version != nil {
		entry.VersionModified = state.FormatTimestamp(r.Version.ModifiedAt)
		entry.ContentLocator = r.Version.ContentLocator
	}
	// Recorded even when ctx is cancelled.
	if err := s.store.InsertRun(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("relwatch: record run", "error", err)
	}
}

// runLoggerKey carries the run-scoped logger into fetch callbacks.
type runLoggerKey struct{}

func (s *Service) runLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(runLoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func (s *Service) onAttempt(ctx context.Context, url string, attempt int, err error) {
	s.metrics.observeAttempt(err)
	if err != nil {
		s.runLogger(ctx).Warn("fetch: attempt failed", "url", url, "attempt", attempt, "error", err)
	}
}
