package collector

import (
	"math"
	"time"

	"github.com/skridlevsky/patrolstats/internal/crawl"
	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/stats"
)

// Status values of a run
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SessionSummary describes how one source's crawl ended.
type SessionSummary struct {
	Source        stats.Source     `json:"source"`
	StopReason    crawl.StopReason `json:"stopReason"`
	PagesFetched  int              `json:"pagesFetched"`
	FailedPages   int              `json:"failedPages"`
	MalformedRows int              `json:"malformedRows"`
	Records       int              `json:"records"`
}

// ActivityRecord is one in-window activity and its participant counts.
type ActivityRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	CreateTime string `json:"createTime"`
	StartTime  string `json:"startTime"`
	Organizer  string `json:"organizer,omitempty"`
	Address    string `json:"address,omitempty"`
	OrgName    string `json:"orgName,omitempty"`
	MaxMembers int    `json:"maxMembers"`
	// Attended is the portal's own sign-in count for the activity.
	Attended     int              `json:"attended"`
	Views        int              `json:"views"`
	Participants int              `json:"participants"`
	Counted      int              `json:"counted"`
	Members      []ActivityMember `json:"members,omitempty"`
	Failed       bool             `json:"failed,omitempty"`
}

// ActivityMember is one participant of an activity.
type ActivityMember struct {
	Identity string `json:"identity"`
	SignedIn bool   `json:"signedIn"`
}

// ActivitySummary describes the activities of a run. Activities whose
// detail could not be fetched are counted in Failed only.
type ActivitySummary struct {
	Activities          int     `json:"activities"`
	Patrols             int     `json:"patrols"`
	Cleanups            int     `json:"cleanups"`
	Failed              int     `json:"failed"`
	Attended            int     `json:"attended"`
	AverageAttended     float64 `json:"averageAttended"`
	Participants        int     `json:"participants"`
	AverageParticipants float64 `json:"averageParticipants"`
}

// SummarizeActivities computes per-kind counts and attendance averages
// rounded to two decimals.
func SummarizeActivities(records []ActivityRecord) ActivitySummary {
	var s ActivitySummary
	for _, a := range records {
		if a.Failed {
			s.Failed++
			continue
		}
		s.Activities++
		switch a.Kind {
		case patrol.KindPatrol:
			s.Patrols++
		case patrol.KindCleanup:
			s.Cleanups++
		}
		s.Attended += a.Attended
		s.Participants += a.Participants
	}
	if s.Activities > 0 {
		n := float64(s.Activities)
		s.AverageAttended = math.Round(float64(s.Attended)/n*100) / 100
		s.AverageParticipants = math.Round(float64(s.Participants)/n*100) / 100
	}
	return s
}

// Report is the outcome of one collection run. Partial runs (cancelled or
// aborted) still carry whatever sessions completed.
type Report struct {
	RunID      string                                 `json:"runId"`
	Trigger    string                                 `json:"trigger"`
	Cutoff     time.Time                              `json:"cutoff"`
	Status     string                                 `json:"status"`
	Error      string                                 `json:"error,omitempty"`
	StartedAt  time.Time                              `json:"startedAt"`
	FinishedAt time.Time                              `json:"finishedAt"`
	Sessions   []SessionSummary                       `json:"sessions"`
	Activities []ActivityRecord                       `json:"activities"`
	Users      map[stats.Source][]stats.UserAggregate `json:"-"`
	Stats      []stats.ComprehensiveStat              `json:"stats"`
	Summary    stats.Summary                          `json:"summary"`

	ActivitySummary ActivitySummary `json:"activitySummary"`
}

// UserPosts returns identity's records per source.
func (r *Report) UserPosts(identity string) map[stats.Source]stats.UserAggregate {
	out := make(map[stats.Source]stats.UserAggregate)
	for src, entries := range r.Users {
		for _, entry := range entries {
			if entry.Identity == identity {
				out[src] = entry
				break
			}
		}
	}
	return out
}
