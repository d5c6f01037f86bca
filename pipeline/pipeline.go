package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/parser"
	"github.com/aluiziolira/go-chart-sync/period"
	"github.com/aluiziolira/go-chart-sync/scraper"
)

// FetcherFactory opens the fetch session of one run.
type FetcherFactory func() (scraper.Fetcher, error)

// Publisher uploads finished dataset files and returns their locations.
type Publisher interface {
	Publish(ctx context.Context, paths ...string) ([]string, error)
}

// Syncer brings one dataset up to date: it plans the missing periods,
// fetches them one at a time, merges them and saves the dataset once.
type Syncer struct {
	cfg        *config.Config
	newFetcher FetcherFactory
	normalizer *parser.Normalizer
	retry      scraper.RetryPolicy
	metrics    *Metrics
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithFetcherFactory replaces the fetcher selected by the configuration.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(s *Syncer) {
		s.newFetcher = f
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithPublisher uploads the dataset and its exports after a save.
func WithPublisher(p Publisher) Option {
	return func(s *Syncer) {
		s.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithClock sets the source of "today".
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithSleep replaces the wait used for the inter-request delay and retry
// backoff.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Syncer) {
		s.sleep = sleep
	}
}

// NewSyncer builds a syncer for cfg.
func NewSyncer(cfg *config.Config, opts ...Option) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	normalizer, err := parser.NewNormalizer(cfg.TitleCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Syncer{
		cfg:        cfg,
		normalizer: normalizer,
		retry:      scraper.NewRetryPolicy(cfg),
		logger:     slog.Default(),
		now:        time.Now,
		sleep:      scraper.Sleep,
		newFetcher: func() (scraper.Fetcher, error) {
			return scraper.New(cfg)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = s.retry.WithSleep(s.sleep)
	s.logger = s.logger.With(slog.String("source", cfg.Source))
	return s, nil
}

// PlanResult describes what a sync would fetch.
type PlanResult struct {
	LastCovered period.Period
	FromEpoch   bool
	Cutoff      time.Time
	Periods     []period.Period
}

// Plan loads the dataset and computes the missing periods without
// fetching anything.
func (s *Syncer) Plan(ctx context.Context) (*PlanResult, error) {
	tgt := s.newTarget()
	if err := tgt.load(ctx); err != nil {
		return nil, err
	}
	last, fromEpoch, err := s.lastCovered(tgt)
	if err != nil {
		return nil, err
	}
	today := s.now()
	planner := s.cfg.Planner()
	return &PlanResult{
		LastCovered: last,
		FromEpoch:   fromEpoch,
		Cutoff:      planner.Cutoff(today),
		Periods:     planner.Plan(last, today),
	}, nil
}

// Run synchronizes the dataset with the source. The returned error is a
// *SyncError whenever the outcome is failed.
func (s *Syncer) Run(ctx context.Context) (*models.SyncResult, error) {
	result := s.newResult()
	tgt := s.newTarget()

	if err := tgt.load(ctx); err != nil {
		return s.fail(ctx, result, &SyncError{Step: "load", Err: err})
	}
	last, _, err := s.lastCovered(tgt)
	if err != nil {
		return s.fail(ctx, result, &SyncError{Step: "plan", Err: err})
	}
	result.LastCovered = last.Format(s.cfg.PeriodLayout)

	plan := s.cfg.Planner().Plan(last, s.now())
	result.Planned = s.labels(plan)
	if len(plan) == 0 {
		s.logger.Info("dataset already up to date", slog.String("last_covered", result.LastCovered))
		return s.finish(ctx, result, tgt, models.OutcomeUpToDate)
	}

	s.logger.Info("planned periods",
		slog.Int("count", len(plan)),
		slog.String("from", result.Planned[0]),
		slog.String("to", result.Planned[len(plan)-1]),
	)

	if s.newFetcher == nil {
		return s.fail(ctx, result, &SyncError{Step: "open_session", Err: ErrNoFetcher})
	}
	fetcher, err := s.newFetcher()
	if err != nil {
		return s.fail(ctx, result, &SyncError{Step: "open_session", Err: err})
	}
	defer s.closeFetcher(fetcher)

	return s.runPeriods(ctx, result, tgt, plan, fetcher, true)
}

// Ingest merges the intermediate period files found in the download
// directory without contacting the source. Snapshot datasets re-merge
// every file, which is idempotent; cumulative datasets only take periods
// after the last covered one.
func (s *Syncer) Ingest(ctx context.Context) (*models.SyncResult, error) {
	result := s.newResult()
	tgt := s.newTarget()

	if err := tgt.load(ctx); err != nil {
		return s.fail(ctx, result, &SyncError{Step: "load", Err: err})
	}
	last, _, err := s.lastCovered(tgt)
	if err != nil {
		return s.fail(ctx, result, &SyncError{Step: "plan", Err: err})
	}
	result.LastCovered = last.Format(s.cfg.PeriodLayout)

	files, err := scraper.ScanPeriodFiles(s.cfg.DownloadDir, s.cfg.FilePattern, s.cfg.Granularity, s.cfg.PeriodLayout)
	if err != nil {
		return s.fail(ctx, result, &SyncError{Step: "scan_files", Err: err})
	}

	var plan []period.Period
	for _, f := range files {
		if s.cfg.Mode == config.ModeCumulative && !f.Period.After(last) {
			s.logger.Debug("skipping merged period file", slog.String("path", f.Path))
			continue
		}
		plan = append(plan, f.Period)
	}
	result.Planned = s.labels(plan)
	if len(plan) == 0 {
		s.logger.Info("no period files to ingest", slog.String("dir", s.cfg.DownloadDir))
		return s.finish(ctx, result, tgt, models.OutcomeUpToDate)
	}

	fileFetcher := scraper.NewFileFetcher(s.cfg)
	fileFetcher.Wait = 0
	return s.runPeriods(ctx, result, tgt, plan, fileFetcher, false)
}

func (s *Syncer) runPeriods(ctx context.Context, result *models.SyncResult, tgt target, plan []period.Period, fetcher scraper.Fetcher, delay bool) (*models.SyncResult, error) {
	var (
		merged  int
		stopErr *SyncError
	)

	for i, p := range plan {
		label := p.Format(s.cfg.PeriodLayout)

		if i > 0 && delay {
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				stopErr = &SyncError{Period: label, Step: "delay", Err: err}
				break
			}
		}

		res := s.fetch(ctx, fetcher, p, result)
		var err error
		step := "fetch"
		if res.Status == scraper.StatusSuccess {
			step = "normalize"
			err = s.mergePeriod(tgt, p, res, result)
		} else if err = res.Err; err == nil {
			err = fmt.Errorf("fetch ended with status %s", res.Status)
		}
		if err == nil {
			merged++
			result.Merged = append(result.Merged, label)
			s.metrics.IncPeriod("merged")

			if s.cfg.FlushEachPeriod {
				tgt.finalize()
				if err := tgt.save(ctx); err != nil {
					return s.fail(ctx, result, &SyncError{Period: label, Step: "save", Err: err})
				}
				result.Saved = true
			}
			continue
		}

		s.recordFailure(result, label, step, err)
		syncErr := &SyncError{Period: label, Step: step, Err: err}

		if ctx.Err() != nil {
			stopErr = syncErr
			break
		}
		switch s.cfg.FailurePolicy {
		case config.PolicyAllOrNothing:
			s.logger.Error("period failed, aborting without saving", slog.String("period", label), slog.Any("error", err))
			return s.fail(ctx, result, syncErr)
		case config.PolicyStop:
			stopErr = syncErr
		default:
			if i == 0 {
				s.logger.Error("first period failed", slog.String("period", label), slog.Any("error", err))
				return s.fail(ctx, result, syncErr)
			}
			s.logger.Warn("skipping failed period", slog.String("period", label), slog.Any("error", err))
			continue
		}
		break
	}

	if stopErr != nil && (merged == 0 || s.cfg.FailurePolicy == config.PolicyAllOrNothing) {
		return s.fail(ctx, result, stopErr)
	}

	tgt.finalize()
	if err := tgt.save(context.WithoutCancel(ctx)); err != nil {
		return s.fail(ctx, result, &SyncError{Step: "save", Err: err})
	}
	result.Saved = true
	result.DatasetSize = tgt.size()
	s.logger.Info("dataset saved",
		slog.String("path", s.cfg.DatasetPath),
		slog.Int("periods", merged),
		slog.Int("records", tgt.size()),
	)

	if stopErr != nil {
		return s.fail(ctx, result, stopErr)
	}
	return s.finish(ctx, result, tgt, models.OutcomeSaved)
}

func (s *Syncer) fetch(ctx context.Context, fetcher scraper.Fetcher, p period.Period, result *models.SyncResult) scraper.FetchResult {
	start := time.Now()
	attempt := func(ctx context.Context) scraper.FetchResult {
		return fetcher.Fetch(ctx, p)
	}
	onRetry := func(n int, err error) {
		result.FetchRetries++
		s.metrics.IncRetries("transient")
		s.logger.Warn("retrying period",
			slog.String("period", p.Format(s.cfg.PeriodLayout)),
			slog.Int("attempt", n),
			slog.String("category", errorTypeLabel(err)),
		)
	}

	res := s.retry.Do(ctx, attempt, onRetry)
	if res.Status == scraper.StatusAuthRetryNeeded {
		res = s.reauthenticate(ctx, fetcher, p, res, result, attempt, onRetry)
	}

	s.metrics.ObserveDuration(time.Since(start))
	s.metrics.IncFetch(res.Status.String())
	return res
}

func (s *Syncer) reauthenticate(ctx context.Context, fetcher scraper.Fetcher, p period.Period, res scraper.FetchResult, result *models.SyncResult, attempt func(context.Context) scraper.FetchResult, onRetry func(int, error)) scraper.FetchResult {
	label := p.Format(s.cfg.PeriodLayout)
	authFailed := func(err error) scraper.FetchResult {
		return scraper.FetchResult{
			Status: scraper.StatusFailed,
			Err:    &scraper.FetchError{Period: label, Step: "authenticate", Kind: scraper.KindAuth, Err: err},
		}
	}

	auth, ok := fetcher.(scraper.Authenticator)
	if !ok {
		return authFailed(errors.Join(scraper.ErrAuthUnavailable, res.Err))
	}

	result.AuthRetries++
	s.metrics.IncRetries("auth")
	s.logger.Info("session expired, authenticating", slog.String("period", label))
	if err := auth.Authenticate(ctx); err != nil {
		return authFailed(err)
	}

	res = s.retry.Do(ctx, attempt, onRetry)
	if res.Status == scraper.StatusAuthRetryNeeded {
		return authFailed(fmt.Errorf("still unauthorized after authenticating: %w", res.Err))
	}
	return res
}

func (s *Syncer) mergePeriod(tgt target, p period.Period, res scraper.FetchResult, result *models.SyncResult) error {
	stats, accepted, dropped, err := tgt.apply(p, res)
	if err != nil {
		return err
	}

	result.RowsAccepted += accepted
	result.RowsDropped += len(dropped)
	for _, rowErr := range dropped {
		label := errorTypeLabel(rowErr)
		result.DroppedByType[label]++
		s.metrics.IncError(label)
		s.logger.Debug("row dropped", slog.String("category", label), slog.Any("error", rowErr))
	}
	s.metrics.AddRows("accepted", accepted)
	s.metrics.AddRows("dropped", len(dropped))

	result.Inserted += stats.Inserted
	result.Updated += stats.Updated
	result.Duplicates += stats.Duplicates

	s.logger.Info("period merged",
		slog.String("period", p.Format(s.cfg.PeriodLayout)),
		slog.String("location", res.Location),
		slog.Int("rows", accepted),
		slog.Int("dropped", len(dropped)),
		slog.Int("inserted", stats.Inserted),
		slog.Int("updated", stats.Updated),
		slog.Int("duplicates", stats.Duplicates),
	)
	return nil
}

func (s *Syncer) recordFailure(result *models.SyncResult, label, step string, err error) {
	result.Failed = append(result.Failed, models.PeriodFailure{Period: label, Step: step, Error: err.Error()})
	s.metrics.IncPeriod("failed")
	s.metrics.IncError(errorTypeLabel(err))
}

func (s *Syncer) lastCovered(tgt target) (period.Period, bool, error) {
	epoch, err := s.cfg.EpochPeriod()
	if err != nil {
		return period.Period{}, false, err
	}

	last, err := tgt.lastCovered()
	if err != nil {
		var planning *PlanningError
		if !errors.As(err, &planning) {
			return period.Period{}, false, err
		}
		planning.Path = s.cfg.DatasetPath
		s.logger.Warn("cannot derive last covered period, starting from epoch",
			slog.String("epoch", s.cfg.Epoch),
			slog.Any("error", err),
		)
		s.metrics.IncError(errorTypeLabel(err))
		return epoch, true, nil
	}
	if last.IsZero() {
		return epoch, true, nil
	}
	return last, false, nil
}

func (s *Syncer) closeFetcher(f scraper.Fetcher) {
	if err := f.Close(); err != nil {
		s.logger.Warn("closing fetch session", slog.Any("error", err))
	}
}

func (s *Syncer) newResult() *models.SyncResult {
	return &models.SyncResult{
		Source:        s.cfg.Source,
		StartTime:     s.now(),
		DatasetPath:   s.cfg.DatasetPath,
		DroppedByType: make(map[string]int),
	}
}

func (s *Syncer) labels(plan []period.Period) []string {
	out := make([]string, 0, len(plan))
	for _, p := range plan {
		out = append(out, p.Format(s.cfg.PeriodLayout))
	}
	return out
}

func (s *Syncer) finish(ctx context.Context, result *models.SyncResult, tgt target, outcome models.Outcome) (*models.SyncResult, error) {
	result.Outcome = outcome
	result.DatasetSize = tgt.size()
	if last, err := tgt.lastCovered(); err == nil && !last.IsZero() {
		result.LastCovered = last.Format(s.cfg.PeriodLayout)
	}

	if outcome == models.OutcomeSaved {
		if err := s.export(ctx, result, tgt); err != nil {
			return s.fail(ctx, result, err)
		}
	}

	result.EndTime = s.now()
	s.metrics.SetDatasetSize(result.DatasetSize)
	s.metrics.MarkSuccess(result.EndTime)
	s.pushMetrics(ctx)
	return result, nil
}

func (s *Syncer) export(ctx context.Context, result *models.SyncResult, tgt target) *SyncError {
	paths, err := Export(tgt.table(), s.cfg.DatasetPath, s.cfg.Exports)
	if err != nil {
		return &SyncError{Step: "export", Err: err}
	}
	result.Exports = paths

	if s.publisher == nil {
		return nil
	}
	uploaded, err := s.publisher.Publish(ctx, slices.Concat([]string{s.cfg.DatasetPath}, paths)...)
	if err != nil {
		return &SyncError{Step: "publish", Err: err}
	}
	for _, loc := range uploaded {
		s.logger.Info("dataset published", slog.String("location", loc))
	}
	return nil
}

func (s *Syncer) fail(ctx context.Context, result *models.SyncResult, err *SyncError) (*models.SyncResult, error) {
	result.Outcome = models.OutcomeFailed
	result.EndTime = s.now()
	s.metrics.IncError(errorTypeLabel(err))
	s.logger.Error("sync failed",
		slog.String("period", err.Period),
		slog.String("step", err.Step),
		slog.Bool("saved", result.Saved),
		slog.Any("error", err.Err),
	)
	s.pushMetrics(ctx)
	return result, err
}

func (s *Syncer) pushMetrics(ctx context.Context) {
	if s.cfg.PushgatewayURL == "" {
		return
	}
	if err := s.metrics.Push(context.WithoutCancel(ctx), s.cfg.PushgatewayURL, s.cfg.Source); err != nil {
		s.logger.Warn("metrics push failed", slog.Any("error", err))
	}
}
