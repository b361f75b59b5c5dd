// Package stats groups crawled rows by identity and merges the per-source
// counts into ranked comprehensive statistics.
package stats

// Source names one of the three collected categories.
type Source string

const (
	SourcePatrol     Source = "patrol"
	SourceEvaluation Source = "evaluation"
	SourceActivity   Source = "activity"
)

// Sources lists every source in canonical order.
var Sources = []Source{SourcePatrol, SourceEvaluation, SourceActivity}

func (s Source) index() int {
	for i, src := range Sources {
		if src == s {
			return i
		}
	}
	return len(Sources)
}

// Counts maps identity to count and remembers first-insertion order, so
// iteration (and everything derived from it) is reproducible.
type Counts struct {
	keys   []string
	values map[string]int
}

// NewCounts creates an empty mapping.
func NewCounts() *Counts {
	return &Counts{values: make(map[string]int)}
}

// Add increases identity's count by n.
func (c *Counts) Add(identity string, n int) {
	if _, ok := c.values[identity]; !ok {
		c.keys = append(c.keys, identity)
	}
	c.values[identity] += n
}

// Get returns identity's count, 0 if absent.
func (c *Counts) Get(identity string) int {
	if c == nil {
		return 0
	}
	return c.values[identity]
}

// Keys returns identities in first-insertion order.
func (c *Counts) Keys() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.keys...)
}

// Len returns the number of identities.
func (c *Counts) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Total returns the sum of all counts.
func (c *Counts) Total() int {
	total := 0
	if c == nil {
		return total
	}
	for _, k := range c.keys {
		total += c.values[k]
	}
	return total
}
