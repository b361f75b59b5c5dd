package display

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skridlevsky/patrolstats/internal/collector"
	"github.com/skridlevsky/patrolstats/internal/crawl"
	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/stats"
)

var ranked = []stats.ComprehensiveStat{
	{Identity: "张三", Patrol: 3, Activity: 2, Total: 5},
	{Identity: "bob", Evaluation: 1, Total: 1},
}

func TestDisplayWidth_CountsWideRunes(t *testing.T) {
	assert.Equal(t, 3, DisplayWidth("bob"))
	assert.Equal(t, 4, DisplayWidth("张三"))
	assert.Equal(t, "张三  ", Pad("张三", 6))
}

func TestTruncateText(t *testing.T) {
	f := NewTerminalFormatter()
	assert.Equal(t, "short", f.TruncateText("short", 10))
	assert.Equal(t, "abcd...", f.TruncateText("abcdefghij", 7))
	assert.Equal(t, "河长...", f.TruncateText("河长巡河志愿者", 8))
	assert.Equal(t, "...", f.TruncateText("abcdef", 2))
}

func TestFormatRanking_AlignsColumns(t *testing.T) {
	out := NewTerminalFormatter().FormatRanking(ranked, 0)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], "identity")
	assert.Contains(t, lines[1], "张三")
	assert.Equal(t, DisplayWidth(lines[1]), DisplayWidth(lines[2]))
}

func TestFormatRanking_TopAndEmpty(t *testing.T) {
	f := NewTerminalFormatter()
	out := f.FormatRanking(ranked, 1)
	assert.NotContains(t, out, "bob")
	assert.Equal(t, "No contributors in this window.\n", f.FormatRanking(nil, 10))
}

func TestFormatReport(t *testing.T) {
	report := &collector.Report{
		RunID:  "run-1",
		Status: collector.StatusSucceeded,
		Cutoff: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Sessions: []collector.SessionSummary{
			{Source: stats.SourcePatrol, Records: 12, PagesFetched: 7, StopReason: crawl.StopEmptyStreak, FailedPages: 1},
		},
		Activities: []collector.ActivityRecord{{ID: "1"}, {ID: "2", Failed: true}},
		Stats:      ranked,
		Summary:    stats.Summarize(ranked),
	}
	report.ActivitySummary = collector.SummarizeActivities([]collector.ActivityRecord{
		{ID: "1", Kind: patrol.KindPatrol, Attended: 4, Participants: 6},
		{ID: "2", Failed: true},
	})

	out := NewTerminalFormatter().FormatReport(report, 10)
	assert.Contains(t, out, "since 2024-01-01")
	assert.Contains(t, out, "[PATROL] 12 records")
	assert.Contains(t, out, "empty_streak_reached")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "2 activities (1 without participant list)")
	assert.Contains(t, out, "1 巡河 / 0 净滩")
	assert.Contains(t, out, "4 attended (avg 4.00)")
	assert.Contains(t, out, "6 signed up (avg 6.00)")
	assert.Contains(t, out, "2 people")
	assert.Contains(t, out, "avg 3.00")
}

func TestFormatActivities_Empty(t *testing.T) {
	assert.Equal(t, "", NewTerminalFormatter().FormatActivities(collector.ActivitySummary{}))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(context.Background(), &buf, ranked))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, CSVHeader, records[0])
	assert.Equal(t, []string{"1", "张三", "3", "0", "2", "5"}, records[1])
}

func TestWriteNDJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteNDJSON(context.Background(), &buf, ranked))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"identity":"张三","patrol":3,"evaluation":0,"activity":2,"total":5}`, lines[0])
}

func TestWriteCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	assert.ErrorIs(t, WriteCSV(ctx, &buf, ranked), context.Canceled)
}
