package stats

import (
	"sort"

	"github.com/skridlevsky/patrolstats/internal/patrol"
)

// UnknownIdentity groups records that carry no nickname.
const UnknownIdentity = "未知用户"

// Post is one attributed record.
type Post struct {
	Time    string `json:"time"`
	Message string `json:"message"`
	River   string `json:"river"`
}

// UserAggregate is one identity's records within a source.
type UserAggregate struct {
	Identity string `json:"identity"`
	Count    int    `json:"count"`
	Posts    []Post `json:"posts"`
}

// Aggregator groups one session's rows by identity. It is not safe for
// concurrent use; each session owns its own.
type Aggregator struct {
	source  Source
	counts  *Counts
	entries map[string]*UserAggregate
}

// NewAggregator creates an aggregator for source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{
		source:  source,
		counts:  NewCounts(),
		entries: make(map[string]*UserAggregate),
	}
}

// Source returns the source this aggregator collects.
func (a *Aggregator) Source() Source {
	return a.source
}

// Add attributes a list row to its author.
func (a *Aggregator) Add(row patrol.Row) {
	a.AddPost(row.NickName, Post{
		Time:    row.CreateTime,
		Message: RepairText(row.Msg),
		River:   RepairText(row.RiverName),
	})
}

// AddAll adds every row in order.
func (a *Aggregator) AddAll(rows []patrol.Row) {
	for _, row := range rows {
		a.Add(row)
	}
}

// AddPost attributes post to identity, repairing the identity's encoding and
// substituting UnknownIdentity when it is blank.
func (a *Aggregator) AddPost(identity string, post Post) {
	identity = RepairText(identity)
	if identity == "" {
		identity = UnknownIdentity
	}

	entry, ok := a.entries[identity]
	if !ok {
		entry = &UserAggregate{Identity: identity}
		a.entries[identity] = entry
	}
	entry.Count++
	entry.Posts = append(entry.Posts, post)
	a.counts.Add(identity, 1)
}

// Finalize returns one entry per identity in first-seen order, each with
// posts sorted newest first. Ties keep insertion order.
func (a *Aggregator) Finalize() []UserAggregate {
	out := make([]UserAggregate, 0, a.counts.Len())
	for _, identity := range a.counts.Keys() {
		entry := a.entries[identity]
		posts := append([]Post(nil), entry.Posts...)
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].Time > posts[j].Time
		})
		out = append(out, UserAggregate{Identity: identity, Count: entry.Count, Posts: posts})
	}
	return out
}

// Counts returns the identity to count mapping.
func (a *Aggregator) Counts() SourceCounts {
	return SourceCounts{Source: a.source, Counts: a.counts}
}
