package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/skridlevsky/patrolstats/internal/patrol"
)

func countsOf(pairs ...any) *Counts {
	c := NewCounts()
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Add(pairs[i].(string), pairs[i+1].(int))
	}
	return c
}

func mojibake(t *testing.T, s string) string {
	t.Helper()
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	require.NoError(t, err)
	return out
}

func TestRepairText(t *testing.T) {
	broken := mojibake(t, "张三巡河")
	require.NotEqual(t, "张三巡河", broken)

	assert.Equal(t, "张三巡河", RepairText(broken))
	assert.Equal(t, "张三巡河", RepairText("张三巡河"), "correct text is left alone")
	assert.Equal(t, "plain ascii", RepairText("plain ascii"))
	assert.Equal(t, "café", RepairText("café"), "latin-1 text that is not utf-8 underneath is kept")
	assert.Equal(t, "", RepairText(""))
}

func TestAggregator_GroupsAndSortsPosts(t *testing.T) {
	agg := NewAggregator(SourcePatrol)
	agg.AddAll([]patrol.Row{
		{NickName: "alice", CreateTime: "2024-01-02 08:00:00", Msg: "a1", RiverName: "east"},
		{NickName: "bob", CreateTime: "2024-01-03 08:00:00", Msg: "b1", RiverName: "west"},
		{NickName: "alice", CreateTime: "2024-01-05 08:00:00", Msg: "a2", RiverName: "east"},
		{NickName: mojibake(t, "李四"), CreateTime: "2024-01-04 08:00:00", Msg: mojibake(t, "清理垃圾"), RiverName: "north"},
	})

	entries := agg.Finalize()
	require.Len(t, entries, 3)

	assert.Equal(t, "alice", entries[0].Identity)
	assert.Equal(t, 2, entries[0].Count)
	assert.Equal(t, "a2", entries[0].Posts[0].Message, "newest first")
	assert.Equal(t, "a1", entries[0].Posts[1].Message)

	assert.Equal(t, "bob", entries[1].Identity)
	assert.Equal(t, "李四", entries[2].Identity)
	assert.Equal(t, "清理垃圾", entries[2].Posts[0].Message)

	counts := agg.Counts()
	assert.Equal(t, SourcePatrol, counts.Source)
	assert.Equal(t, []string{"alice", "bob", "李四"}, counts.Counts.Keys())
	assert.Equal(t, 4, counts.Counts.Total())
}

func TestAggregator_MissingIdentityUsesPlaceholder(t *testing.T) {
	agg := NewAggregator(SourceEvaluation)
	agg.Add(patrol.Row{CreateTime: "2024-01-02 08:00:00", Msg: "anonymous"})
	agg.Add(patrol.Row{NickName: "carol", CreateTime: "2024-01-02 09:00:00"})

	entries := agg.Finalize()
	require.Len(t, entries, 2)
	assert.Equal(t, UnknownIdentity, entries[0].Identity)
	assert.Equal(t, 1, entries[0].Count)
	assert.Equal(t, 1, agg.Counts().Counts.Get(UnknownIdentity))
}

func TestMerge_Scenario(t *testing.T) {
	stats := Merge(
		SourceCounts{Source: SourcePatrol, Counts: countsOf("A", 3)},
		SourceCounts{Source: SourceEvaluation, Counts: NewCounts()},
		SourceCounts{Source: SourceActivity, Counts: countsOf("A", 2, "B", 1)},
	)

	assert.Equal(t, []ComprehensiveStat{
		{Identity: "A", Patrol: 3, Evaluation: 0, Activity: 2, Total: 5},
		{Identity: "B", Patrol: 0, Evaluation: 0, Activity: 1, Total: 1},
	}, stats)
}

func TestMerge_TotalInvariant(t *testing.T) {
	stats := Merge(
		SourceCounts{Source: SourcePatrol, Counts: countsOf("A", 3, "C", 7)},
		SourceCounts{Source: SourceEvaluation, Counts: countsOf("B", 2, "C", 1)},
		SourceCounts{Source: SourceActivity, Counts: countsOf("A", 2, "D", 4)},
	)
	for _, s := range stats {
		assert.Equal(t, s.Patrol+s.Evaluation+s.Activity, s.Total, s.Identity)
		assert.Positive(t, s.Total)
	}
}

func TestMerge_DropsZeroTotals(t *testing.T) {
	stats := Merge(
		SourceCounts{Source: SourcePatrol, Counts: countsOf("ghost", 0, "A", 1)},
		SourceCounts{Source: SourceActivity, Counts: countsOf("ghost", 0)},
	)
	require.Len(t, stats, 1)
	assert.Equal(t, "A", stats[0].Identity)
}

func TestMerge_Commutative(t *testing.T) {
	p := SourceCounts{Source: SourcePatrol, Counts: countsOf("A", 3, "B", 1, "C", 2)}
	e := SourceCounts{Source: SourceEvaluation, Counts: countsOf("D", 1, "B", 4)}
	a := SourceCounts{Source: SourceActivity, Counts: countsOf("E", 2, "A", 1, "D", 1)}

	want := Merge(p, e, a)
	orders := [][]SourceCounts{
		{p, a, e}, {e, p, a}, {e, a, p}, {a, p, e}, {a, e, p},
	}
	for _, order := range orders {
		assert.Equal(t, want, Merge(order...))
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, identities(want))
}

func TestMerge_Associative(t *testing.T) {
	p := SourceCounts{Source: SourcePatrol, Counts: countsOf("A", 3, "B", 1)}
	e := SourceCounts{Source: SourceEvaluation, Counts: countsOf("C", 1, "B", 4, "D", 2)}
	a := SourceCounts{Source: SourceActivity, Counts: countsOf("D", 2, "E", 1, "C", 5)}

	want := Merge(p, e, a)
	assert.Equal(t, want, Combine(Merge(p, e), Merge(a)))
	assert.Equal(t, want, Combine(Merge(p), Merge(e, a)))
	assert.Equal(t, want, Combine(Merge(a, p), Merge(e)))
	assert.Equal(t, want, Combine(Merge(e), Merge(a), Merge(p)))
}

func TestRank_StableTies(t *testing.T) {
	input := []ComprehensiveStat{
		{Identity: "first", Patrol: 5, Total: 5},
		{Identity: "top", Patrol: 9, Total: 9},
		{Identity: "second", Activity: 5, Total: 5},
	}

	ranked := Rank(input)

	assert.Equal(t, []string{"top", "first", "second"}, identities(ranked))
	assert.Equal(t, "first", input[0].Identity, "input is not modified")
}

func TestTop(t *testing.T) {
	input := []ComprehensiveStat{
		{Identity: "a", Total: 1}, {Identity: "b", Total: 3}, {Identity: "c", Total: 2},
	}
	assert.Equal(t, []string{"b", "c"}, identities(Top(input, 2)))
	assert.Len(t, Top(input, 10), 3)
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]ComprehensiveStat{
		{Identity: "a", Patrol: 3, Evaluation: 1, Activity: 1, Total: 5},
		{Identity: "b", Patrol: 1, Total: 1},
		{Identity: "c", Evaluation: 1, Activity: 1, Total: 2},
	})

	assert.Equal(t, 3, summary.People)
	assert.Equal(t, 2.67, summary.AverageTotal)
	assert.Equal(t, 5, summary.MaxTotal)
	assert.Equal(t, 1, summary.MinTotal)
	assert.Equal(t, 1.33, summary.AveragePatrol)
	assert.Equal(t, 0.67, summary.AverageEvaluation)
	assert.Equal(t, 0.67, summary.AverageActivity)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func identities(stats []ComprehensiveStat) []string {
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = s.Identity
	}
	return out
}
