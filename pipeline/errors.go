package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-chart-sync/parser"
	"github.com/aluiziolira/go-chart-sync/scraper"
)

// ErrNoFetcher is returned when a run needs to fetch but no fetcher
// factory was configured.
var ErrNoFetcher = errors.New("pipeline: no fetcher configured")

// PlanningError reports that the last covered period could not be derived
// from the persisted dataset. The planner falls back to the epoch.
type PlanningError struct {
	Path string
	Err  error
}

func (e *PlanningError) Error() string {
	return fmt.Errorf("derive last covered period of %s: %w", e.Path, e.Err).Error()
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed load or save of a dataset. The
// previously persisted file is left untouched.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Errorf("%s dataset %s: %w", e.Op, e.Path, e.Err).Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SyncError identifies the period and step that made a run fail.
type SyncError struct {
	Period string
	Step   string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Period == "" {
		return fmt.Errorf("sync failed at %s: %w", e.Step, e.Err).Error()
	}
	return fmt.Errorf("sync failed at %s (%s): %w", e.Period, e.Step, e.Err).Error()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}

	var timeout *scraper.FetchTimeoutError
	var fetch *scraper.FetchError
	var malformed *parser.MalformedRowError
	var numeric *parser.NumericParseError
	var persistence *PersistenceError
	var planning *PlanningError

	switch {
	case errors.As(err, &timeout), errors.As(err, &fetch):
		return scraper.ErrorKind(err)
	case errors.As(err, &malformed):
		return "malformed_row"
	case errors.As(err, &numeric):
		return "numeric_parse"
	case errors.As(err, &persistence):
		return "persistence_" + persistence.Op
	case errors.As(err, &planning):
		return "planning"
	default:
		return "other"
	}
}
