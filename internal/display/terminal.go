// Package display provides terminal and file output for collection results.
package display

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"

	"github.com/skridlevsky/patrolstats/internal/collector"
	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/stats"
)

const separator = " • "

// TerminalFormatter formats rankings for terminal display.
type TerminalFormatter struct {
	// IdentityWidth caps the identity column in display cells.
	IdentityWidth int
}

// NewTerminalFormatter creates a new terminal formatter.
func NewTerminalFormatter() *TerminalFormatter {
	return &TerminalFormatter{IdentityWidth: 20}
}

// FormatRanking formats ranked stats as an aligned table. top <= 0 shows all.
func (f *TerminalFormatter) FormatRanking(ranked []stats.ComprehensiveStat, top int) string {
	if len(ranked) == 0 {
		return "No contributors in this window.\n"
	}
	if top > 0 && top < len(ranked) {
		ranked = ranked[:top]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%4s  %s  %6s  %10s  %8s  %5s\n",
		"#", Pad("identity", f.IdentityWidth), "patrol", "evaluation", "activity", "total")
	for i, s := range ranked {
		fmt.Fprintf(&b, "%4d  %s  %6d  %10d  %8d  %5d\n",
			i+1, Pad(f.TruncateText(s.Identity, f.IdentityWidth), f.IdentityWidth),
			s.Patrol, s.Evaluation, s.Activity, s.Total)
	}
	return b.String()
}

// FormatSummary formats the aggregate line under a ranking.
func (f *TerminalFormatter) FormatSummary(s stats.Summary) string {
	if s.People == 0 {
		return "0 people\n"
	}
	parts := []string{
		pluralize(s.People, "person", "people"),
		fmt.Sprintf("avg %.2f (max %d, min %d)", s.AverageTotal, s.MaxTotal, s.MinTotal),
		fmt.Sprintf("patrol %.2f / evaluation %.2f / activity %.2f", s.AveragePatrol, s.AverageEvaluation, s.AverageActivity),
	}
	return strings.Join(parts, separator) + "\n"
}

// FormatSessions formats one line per crawl session.
func (f *TerminalFormatter) FormatSessions(sessions []collector.SessionSummary) string {
	var lines []string
	for _, s := range sessions {
		line := fmt.Sprintf("[%s] %d records%s%d pages%s%s",
			strings.ToUpper(string(s.Source)), s.Records, separator, s.PagesFetched, separator, s.StopReason)
		if s.FailedPages > 0 {
			line += separator + fmt.Sprintf("%d failed", s.FailedPages)
		}
		if s.MalformedRows > 0 {
			line += separator + fmt.Sprintf("%d malformed", s.MalformedRows)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// FormatReport formats a whole run: header, sessions, ranking and summary.
func (f *TerminalFormatter) FormatReport(r *collector.Report, top int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s%s%s since %s\n", r.RunID, separator, r.Status, r.Cutoff.Format("2006-01-02"))
	if r.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", r.Error)
	}
	b.WriteString(f.FormatSessions(r.Sessions))
	b.WriteString(f.FormatActivities(r.ActivitySummary))

	b.WriteString("\n")
	b.WriteString(f.FormatRanking(r.Stats, top))
	b.WriteString("\n")
	b.WriteString(f.FormatSummary(r.Summary))
	return b.String()
}

// FormatActivities formats the activity line of a report. It is empty when
// the run saw no activities.
func (f *TerminalFormatter) FormatActivities(s collector.ActivitySummary) string {
	seen := s.Activities + s.Failed
	if seen == 0 {
		return ""
	}
	line := pluralize(seen, "activity", "activities")
	if s.Failed > 0 {
		line += fmt.Sprintf(" (%d without participant list)", s.Failed)
	}
	if s.Activities > 0 {
		line += separator + fmt.Sprintf("%d %s / %d %s", s.Patrols, patrol.KindPatrol, s.Cleanups, patrol.KindCleanup)
		line += separator + fmt.Sprintf("%d attended (avg %.2f)", s.Attended, s.AverageAttended)
		line += separator + fmt.Sprintf("%d signed up (avg %.2f)", s.Participants, s.AverageParticipants)
	}
	return line + "\n"
}

// TruncateText truncates text to maxCells display cells, adding "..." if
// truncated. Wide runes count as two cells.
func (f *TerminalFormatter) TruncateText(text string, maxCells int) string {
	if DisplayWidth(text) <= maxCells {
		return text
	}
	if maxCells <= 3 {
		return "..."
	}

	var b strings.Builder
	used := 0
	for _, r := range text {
		w := runeWidth(r)
		if used+w > maxCells-3 {
			break
		}
		b.WriteRune(r)
		used += w
	}
	return b.String() + "..."
}

// DisplayWidth returns the number of terminal cells s occupies.
func DisplayWidth(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

// Pad right-pads s with spaces to cells display cells.
func Pad(s string, cells int) string {
	if gap := cells - DisplayWidth(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// pluralize returns "N singular" or "N plural" based on count.
func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %s", n, plural)
}
