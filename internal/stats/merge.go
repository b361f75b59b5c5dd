package stats

import (
	"math"
	"sort"
)

// SourceCounts is one source's finalized identity to count mapping.
type SourceCounts struct {
	Source Source
	Counts *Counts
}

// ComprehensiveStat is one identity's counts across all sources.
// Total always equals Patrol + Evaluation + Activity.
type ComprehensiveStat struct {
	Identity   string `json:"identity"`
	Patrol     int    `json:"patrol"`
	Evaluation int    `json:"evaluation"`
	Activity   int    `json:"activity"`
	Total      int    `json:"total"`
}

func (s ComprehensiveStat) get(src Source) int {
	switch src {
	case SourcePatrol:
		return s.Patrol
	case SourceEvaluation:
		return s.Evaluation
	case SourceActivity:
		return s.Activity
	}
	return 0
}

func (s *ComprehensiveStat) add(src Source, n int) {
	switch src {
	case SourcePatrol:
		s.Patrol += n
	case SourceEvaluation:
		s.Evaluation += n
	case SourceActivity:
		s.Activity += n
	}
	s.Total = s.Patrol + s.Evaluation + s.Activity
}

// Merge combines per-source counts into one stat per identity. Absent
// categories are 0 and identities whose total is 0 are dropped.
//
// The result does not depend on the order inputs are supplied: identities
// are listed by the first source (patrol, evaluation, activity) they appear
// in, then by their position in that source's mapping.
func Merge(inputs ...SourceCounts) []ComprehensiveStat {
	parts := make([][]ComprehensiveStat, 0, len(inputs))
	for _, in := range inputs {
		part := make([]ComprehensiveStat, 0, in.Counts.Len())
		for _, identity := range in.Counts.Keys() {
			s := ComprehensiveStat{Identity: identity}
			s.add(in.Source, in.Counts.Get(identity))
			part = append(part, s)
		}
		parts = append(parts, part)
	}
	return Combine(parts...)
}

// Combine merges previously merged results. Combine(Merge(a, b), Merge(c))
// equals Merge(a, b, c) for any grouping and order of the sources.
func Combine(parts ...[]ComprehensiveStat) []ComprehensiveStat {
	type entry struct {
		stat ComprehensiveStat
		// pos[i] is the identity's position in the first part that holds a
		// nonzero count for Sources[i].
		pos [3]int
	}

	entries := make(map[string]*entry)
	var identities []string

	for _, part := range parts {
		for i, s := range part {
			e, ok := entries[s.Identity]
			if !ok {
				e = &entry{stat: ComprehensiveStat{Identity: s.Identity}, pos: [3]int{-1, -1, -1}}
				entries[s.Identity] = e
				identities = append(identities, s.Identity)
			}
			for si, src := range Sources {
				n := s.get(src)
				if n == 0 {
					continue
				}
				if e.stat.get(src) == 0 && e.pos[si] < 0 {
					e.pos[si] = i
				}
				e.stat.add(src, n)
			}
		}
	}

	type keyed struct {
		stat     ComprehensiveStat
		category int
		pos      int
	}
	out := make([]keyed, 0, len(identities))
	for _, identity := range identities {
		e := entries[identity]
		if e.stat.Total == 0 {
			continue
		}
		k := keyed{stat: e.stat, category: len(Sources), pos: math.MaxInt}
		for si, src := range Sources {
			if e.stat.get(src) != 0 {
				k.category, k.pos = si, e.pos[si]
				break
			}
		}
		out = append(out, k)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].category != out[j].category {
			return out[i].category < out[j].category
		}
		return out[i].pos < out[j].pos
	})

	stats := make([]ComprehensiveStat, len(out))
	for i, k := range out {
		stats[i] = k.stat
	}
	return stats
}

// Rank returns a copy of stats ordered by total, highest first. Equal totals
// keep their input order.
func Rank(stats []ComprehensiveStat) []ComprehensiveStat {
	ranked := append([]ComprehensiveStat(nil), stats...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Total > ranked[j].Total
	})
	return ranked
}

// Top returns the first n ranked stats.
func Top(stats []ComprehensiveStat, n int) []ComprehensiveStat {
	ranked := Rank(stats)
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
