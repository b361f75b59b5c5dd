// Package collector runs the three crawl sessions of a collection run in
// sequence and turns their rows into ranked comprehensive statistics.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skridlevsky/patrolstats/internal/config"
	"github.com/skridlevsky/patrolstats/internal/crawl"
	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/progress"
	"github.com/skridlevsky/patrolstats/internal/stats"
)

// Portal is the subset of the portal client a run needs.
type Portal interface {
	FetchPatrolPage(ctx context.Context, pageNum, pageSize int, useType patrol.UseType) ([]patrol.Row, error)
	FetchActivityPage(ctx context.Context, pageNum, pageSize int) ([]patrol.Row, error)
	ActivityParticipants(ctx context.Context, id patrol.ID, pageSize, maxPages int) (*patrol.ActivityDetail, error)
	HasToken() bool
}

// Options tunes a run.
type Options struct {
	PageSize            int
	MaxPages            int
	MaxConsecutiveEmpty int
	RequestDelay        time.Duration

	ActivitiesPerDay        int
	DefaultActivityPageSize int
	MaxActivityPageSize     int
	DetailPageSize          int
	DetailMaxPages          int
	DetailDelay             time.Duration
	// SignedInOnly counts only participants who checked in.
	SignedInOnly bool
}

// OptionsFromConfig maps configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageSize:                cfg.PageSize,
		MaxPages:                cfg.MaxPages,
		MaxConsecutiveEmpty:     cfg.MaxConsecutiveEmpty,
		RequestDelay:            cfg.RequestDelay,
		ActivitiesPerDay:        cfg.ActivitiesPerDay,
		DefaultActivityPageSize: cfg.DefaultActivityPageSize,
		MaxActivityPageSize:     cfg.MaxActivityPageSize,
		DetailPageSize:          cfg.DetailPageSize,
		DetailMaxPages:          cfg.MaxPages,
		DetailDelay:             cfg.DetailDelay,
		SignedInOnly:            cfg.SignedInOnly,
	}
}

// ActivityPageSize sizes activity list pages from the window length so that
// one page usually covers the whole window: days*perDay+10, capped at
// maxSize. A cutoff in the future yields defaultSize.
func ActivityPageSize(cutoff, now time.Time, perDay, defaultSize, maxSize int) int {
	today := truncateDay(now.In(cutoff.Location()))
	start := truncateDay(cutoff)
	if start.After(today) {
		return defaultSize
	}
	days := int(today.Sub(start).Hours()/24) + 1
	return min(days*perDay+10, maxSize)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Runner executes collection runs against a portal.
type Runner struct {
	portal Portal
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a runner. A nil logger uses slog.Default().
func NewRunner(portal Portal, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{portal: portal, opts: opts, logger: logger, now: time.Now}
}

// Run collects patrol, evaluation and activity records dated on or after
// cutoff. Sessions run one after another. A fatal portal error or a
// cancelled ctx ends the run early; the partial report is still returned
// alongside the error.
func (r *Runner) Run(ctx context.Context, cutoff time.Time, stream *progress.Stream) (*Report, error) {
	report := &Report{
		RunID:     stream.RunID(),
		Cutoff:    cutoff,
		Status:    StatusRunning,
		StartedAt: r.now(),
		Users:     make(map[stats.Source][]stats.UserAggregate),
	}
	logger := r.logger.With("run_id", report.RunID)

	if !r.portal.HasToken() {
		err := fmt.Errorf("activity details: %w", patrol.ErrMissingToken)
		return r.fail(report, stream, err), err
	}

	stream.Emit(progress.Event{
		Kind:    progress.KindRunStarted,
		Message: fmt.Sprintf("collecting records since %s", cutoff.Format("2006-01-02")),
	})
	logger.Info("Collection run starting", "cutoff", cutoff.Format("2006-01-02"))

	var counts []stats.SourceCounts

	for _, useType := range []patrol.UseType{patrol.UsePatrol, patrol.UseEvaluation} {
		source := stats.Source(useType.String())
		fetcher := patrolFetcher{portal: r.portal, useType: useType}
		result, err := r.crawl(ctx, source, fetcher, cutoff, r.opts.PageSize, stream, logger)
		if result != nil {
			agg := stats.NewAggregator(source)
			agg.AddAll(result.Rows)
			report.Users[source] = agg.Finalize()
			report.Sessions = append(report.Sessions, summarize(source, result))
			counts = append(counts, agg.Counts())
		}
		if err != nil {
			return r.end(report, counts, stream, logger, err), err
		}
	}

	activityCounts, err := r.collectActivities(ctx, report, cutoff, stream, logger)
	if activityCounts != nil {
		counts = append(counts, *activityCounts)
	}
	return r.end(report, counts, stream, logger, err), err
}

// crawl runs one list session.
func (r *Runner) crawl(ctx context.Context, source stats.Source, fetcher crawl.PageFetcher, cutoff time.Time, pageSize int, stream *progress.Stream, logger *slog.Logger) (*crawl.Result, error) {
	session := &crawl.Session{
		Source:  string(source),
		Fetcher: fetcher,
		Options: crawl.Options{
			PageSize:            pageSize,
			MaxPages:            r.opts.MaxPages,
			MaxConsecutiveEmpty: r.opts.MaxConsecutiveEmpty,
			Cutoff:              cutoff,
			Delay:               r.opts.RequestDelay,
		},
		Progress: stream,
		Logger:   logger,
	}
	return session.Run(ctx)
}

// collectActivities pages the activity list, then counts participants of
// every in-window activity.
func (r *Runner) collectActivities(ctx context.Context, report *Report, cutoff time.Time, stream *progress.Stream, logger *slog.Logger) (*stats.SourceCounts, error) {
	pageSize := ActivityPageSize(cutoff, r.now(), r.opts.ActivitiesPerDay, r.opts.DefaultActivityPageSize, r.opts.MaxActivityPageSize)
	result, err := r.crawl(ctx, stats.SourceActivity, activityFetcher{portal: r.portal}, cutoff, pageSize, stream, logger)
	if result == nil {
		return nil, err
	}

	agg := stats.NewAggregator(stats.SourceActivity)
	defer func() {
		report.Users[stats.SourceActivity] = agg.Finalize()
	}()
	summary := summarize(stats.SourceActivity, result)
	if err != nil {
		report.Sessions = append(report.Sessions, summary)
		counts := agg.Counts()
		return &counts, err
	}

	seen := make(map[patrol.ID]bool)
	for i, row := range result.Rows {
		if row.ID == "" || seen[row.ID] {
			continue
		}
		seen[row.ID] = true

		if i > 0 && r.opts.DetailDelay > 0 {
			if err = sleep(ctx, r.opts.DetailDelay); err != nil {
				break
			}
		}
		if err = ctx.Err(); err != nil {
			break
		}

		record, detailErr := r.countActivity(ctx, agg, row)
		if detailErr != nil {
			if patrol.IsFatal(detailErr) || ctx.Err() != nil {
				err = detailErr
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				break
			}
			logger.Warn("Activity detail failed", "activity_id", row.ID, "error", detailErr)
			stream.Emit(progress.Event{
				Source:  string(stats.SourceActivity),
				Kind:    progress.KindDetailFailed,
				Message: fmt.Sprintf("activity %q: detail unavailable: %v", record.Name, detailErr),
			})
		} else {
			stream.Emit(progress.Event{
				Source:      string(stats.SourceActivity),
				Kind:        progress.KindDetail,
				Rows:        record.Participants,
				Qualifying:  record.Counted,
				Accumulated: agg.Counts().Counts.Total(),
				Message:     fmt.Sprintf("activity %q: %d participants, %d counted", record.Name, record.Participants, record.Counted),
			})
		}
		report.Activities = append(report.Activities, record)
	}

	report.Sessions = append(report.Sessions, summary)
	counts := agg.Counts()
	return &counts, err
}

func (r *Runner) countActivity(ctx context.Context, agg *stats.Aggregator, row patrol.Row) (ActivityRecord, error) {
	record := ActivityRecord{
		ID:         string(row.ID),
		Name:       stats.RepairText(row.ActName),
		CreateTime: row.CreateTime,
	}

	detail, err := r.portal.ActivityParticipants(ctx, row.ID, r.opts.DetailPageSize, r.opts.DetailMaxPages)
	if err != nil {
		record.Failed = true
		return record, err
	}

	if detail.ActName != "" {
		record.Name = stats.RepairText(detail.ActName)
	}
	record.Kind = detail.Kind()
	record.StartTime = detail.StartTime
	record.Organizer = stats.RepairText(detail.MemberName)
	record.Address = stats.RepairText(detail.Address)
	record.OrgName = stats.RepairText(detail.OrgName)
	record.MaxMembers = detail.MaxMemberNum
	record.Attended = detail.SignInMemberNum
	record.Views = detail.LookNum
	record.Participants = len(detail.Members.Rows)

	when := detail.StartTime
	if when == "" {
		when = row.CreateTime
	}
	for _, p := range detail.Members.Rows {
		identity := stats.RepairText(p.NickName)
		if identity == "" {
			identity = stats.UnknownIdentity
		}
		record.Members = append(record.Members, ActivityMember{Identity: identity, SignedIn: p.SignedIn()})
		if r.opts.SignedInOnly && !p.SignedIn() {
			continue
		}
		agg.AddPost(p.NickName, stats.Post{Time: when, Message: record.Name, River: record.Kind})
		record.Counted++
	}
	return record, nil
}

// end merges whatever sessions completed and stamps the final status.
func (r *Runner) end(report *Report, counts []stats.SourceCounts, stream *progress.Stream, logger *slog.Logger, err error) *Report {
	report.Stats = stats.Rank(stats.Merge(counts...))
	report.Summary = stats.Summarize(report.Stats)
	report.ActivitySummary = SummarizeActivities(report.Activities)
	report.FinishedAt = r.now()

	switch {
	case err == nil:
		report.Status = StatusSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		report.Status = StatusCancelled
		report.Error = err.Error()
	default:
		return r.fail(report, stream, err)
	}

	logger.Info("Collection run finished",
		"status", report.Status,
		"people", report.Summary.People,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	for i, s := range stats.Top(report.Stats, 10) {
		logger.Info("Top contributor", "rank", i+1, "identity", s.Identity, "total", s.Total,
			"patrol", s.Patrol, "evaluation", s.Evaluation, "activity", s.Activity)
	}

	stream.Emit(progress.Event{
		Kind:        progress.KindRunFinished,
		Accumulated: report.Summary.People,
		Message:     fmt.Sprintf("run %s: %d people ranked", report.Status, report.Summary.People),
	})
	return report
}

func (r *Runner) fail(report *Report, stream *progress.Stream, err error) *Report {
	report.Status = StatusFailed
	report.Error = err.Error()
	if report.FinishedAt.IsZero() {
		report.FinishedAt = r.now()
	}
	r.logger.Error("Collection run failed", "run_id", report.RunID, "error", err)
	stream.Emit(progress.Event{Kind: progress.KindRunFailed, Message: "run failed: " + err.Error()})
	return report
}

func summarize(source stats.Source, result *crawl.Result) SessionSummary {
	return SessionSummary{
		Source:        source,
		StopReason:    result.StopReason,
		PagesFetched:  result.PagesFetched,
		FailedPages:   result.FailedPages,
		MalformedRows: result.MalformedRows,
		Records:       len(result.Rows),
	}
}

type patrolFetcher struct {
	portal  Portal
	useType patrol.UseType
}

func (f patrolFetcher) FetchPage(ctx context.Context, pageNum, pageSize int) ([]patrol.Row, error) {
	return f.portal.FetchPatrolPage(ctx, pageNum, pageSize, f.useType)
}

type activityFetcher struct {
	portal Portal
}

func (f activityFetcher) FetchPage(ctx context.Context, pageNum, pageSize int) ([]patrol.Row, error) {
	return f.portal.FetchActivityPage(ctx, pageNum, pageSize)
}

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
