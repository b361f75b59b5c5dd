// Package crawl drives one paginated source: it fetches pages in order,
// keeps rows dated on or after a cutoff and decides when to stop.
//
// The portal does not promise that list pages are time-ordered, so a page
// holding both new and old rows is never taken as a stop signal. Paging ends
// after MaxConsecutiveEmpty pages in a row with no qualifying rows, or after
// MaxPages. This is bounded lookahead, not an exhaustive scan: qualifying
// rows that sit behind a long enough run of old pages are missed.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/progress"
)

// PageFetcher returns one page of rows or a classified error.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageNum, pageSize int) ([]patrol.Row, error)
}

// StopReason explains why a session stopped paging.
type StopReason string

const (
	StopMaxPages    StopReason = "max_pages_reached"
	StopEmptyStreak StopReason = "empty_streak_reached"
	StopCancelled   StopReason = "cancelled"
	StopAborted     StopReason = "aborted"
)

// Options configures a Session.
type Options struct {
	PageSize            int
	MaxPages            int
	MaxConsecutiveEmpty int
	Cutoff              time.Time
	// Delay is waited between consecutive fetches.
	Delay time.Duration
}

func (o Options) validate() error {
	switch {
	case o.PageSize <= 0:
		return fmt.Errorf("page size must be > 0, got %d", o.PageSize)
	case o.MaxPages <= 0:
		return fmt.Errorf("max pages must be > 0, got %d", o.MaxPages)
	case o.MaxConsecutiveEmpty <= 0:
		return fmt.Errorf("max consecutive empty must be > 0, got %d", o.MaxConsecutiveEmpty)
	case o.Cutoff.IsZero():
		return errors.New("cutoff is required")
	}
	return nil
}

// Result is what a session accumulated. It is returned even when the
// session ends early.
type Result struct {
	Source        string
	Rows          []patrol.Row
	StopReason    StopReason
	PagesFetched  int
	FailedPages   int
	MalformedRows int
}

// Session owns one crawl's page counter, streak and accumulator.
type Session struct {
	Source   string
	Fetcher  PageFetcher
	Options  Options
	Progress *progress.Stream
	Logger   *slog.Logger
}

// Run pages through the source until a stop condition is met. A fatal fetch
// error aborts with that error. Cancelling ctx stops at the next page
// checkpoint and returns the rows gathered so far with ctx.Err().
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if err := s.Options.validate(); err != nil {
		return nil, fmt.Errorf("%s session: %w", s.Source, err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", s.Source)

	opts := s.Options
	result := &Result{Source: s.Source}
	streak := 0

	s.emit(progress.Event{
		Kind:    progress.KindSessionStarted,
		Message: fmt.Sprintf("%s: collecting records since %s", s.Source, opts.Cutoff.Format("2006-01-02")),
	})

	finish := func(reason StopReason, err error) (*Result, error) {
		result.StopReason = reason
		logger.Info("Crawl session stopped",
			"reason", reason,
			"pages", result.PagesFetched,
			"failed_pages", result.FailedPages,
			"rows", len(result.Rows),
		)
		s.emit(progress.Event{
			Kind:        progress.KindSessionStopped,
			Page:        result.PagesFetched,
			Streak:      streak,
			Accumulated: len(result.Rows),
			Message:     fmt.Sprintf("%s: stopped (%s), %d records from %d pages", s.Source, reason, len(result.Rows), result.PagesFetched),
		})
		return result, err
	}

	for page := 1; ; page++ {
		if streak >= opts.MaxConsecutiveEmpty {
			return finish(StopEmptyStreak, nil)
		}
		if page > opts.MaxPages {
			return finish(StopMaxPages, nil)
		}

		if page > 1 && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				return finish(StopCancelled, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return finish(StopCancelled, err)
		}

		rows, err := s.Fetcher.FetchPage(ctx, page, opts.PageSize)
		result.PagesFetched++

		if err != nil {
			if patrol.IsFatal(err) {
				logger.Error("Crawl session aborted", "page", page, "error", err)
				return finish(StopAborted, fmt.Errorf("%s page %d: %w", s.Source, page, err))
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.PagesFetched--
				return finish(StopCancelled, ctxErr)
			}

			result.FailedPages++
			streak++
			if patrol.IsShape(err) {
				logger.Warn("Unexpected page shape", "page", page, "error", err)
			} else {
				logger.Warn("Page fetch failed", "page", page, "error", err)
			}
			s.emit(progress.Event{
				Kind:        progress.KindPageFailed,
				Page:        page,
				Streak:      streak,
				Accumulated: len(result.Rows),
				Message:     fmt.Sprintf("%s page %d: failed, counted as empty (%d/%d)", s.Source, page, streak, opts.MaxConsecutiveEmpty),
			})
			continue
		}

		filtered := Filter(rows, opts.Cutoff)
		for _, bad := range filtered.Malformed {
			logger.Warn("Dropping record with bad timestamp", "page", page, "error", bad)
		}
		result.MalformedRows += len(filtered.Malformed)

		if len(filtered.Qualifying) == 0 {
			streak++
		} else {
			streak = 0
			result.Rows = append(result.Rows, filtered.Qualifying...)
		}

		logger.Debug("Page processed",
			"page", page,
			"rows", len(rows),
			"qualifying", len(filtered.Qualifying),
			"older", filtered.Older,
			"streak", streak,
		)
		s.emit(progress.Event{
			Kind:        progress.KindPage,
			Page:        page,
			Rows:        len(rows),
			Qualifying:  len(filtered.Qualifying),
			Older:       filtered.Older,
			Streak:      streak,
			Accumulated: len(result.Rows),
			Message:     pageMessage(s.Source, page, rows, filtered, streak, opts.MaxConsecutiveEmpty),
		})
	}
}

func (s *Session) emit(e progress.Event) {
	e.Source = s.Source
	s.Progress.Emit(e)
}

func pageMessage(source string, page int, rows []patrol.Row, f FilterResult, streak, maxStreak int) string {
	if len(rows) == 0 {
		return fmt.Sprintf("%s page %d: no records (%d/%d)", source, page, streak, maxStreak)
	}
	span := ""
	if !f.Oldest.IsZero() {
		span = fmt.Sprintf(" [%s ~ %s]", f.Oldest.Format("2006-01-02"), f.Newest.Format("2006-01-02"))
	}
	if len(f.Qualifying) == 0 {
		return fmt.Sprintf("%s page %d: %d records, none in window%s (%d/%d)", source, page, len(rows), span, streak, maxStreak)
	}
	return fmt.Sprintf("%s page %d: %d records, %d in window%s", source, page, len(rows), len(f.Qualifying), span)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
