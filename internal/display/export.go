package display

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/skridlevsky/patrolstats/internal/stats"
)

// flushEvery is how many rows are written between flushes.
const flushEvery = 500

// CSVHeader is the header row of the CSV export.
var CSVHeader = []string{"rank", "identity", "patrol", "evaluation", "activity", "total"}

// WriteCSV writes the ranking as CSV with a header row. When w is an
// http.Flusher it is flushed periodically so large exports stream.
func WriteCSV(ctx context.Context, w io.Writer, ranked []stats.ComprehensiveStat) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for i, s := range ranked {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := cw.Write([]string{
			strconv.Itoa(i + 1),
			s.Identity,
			strconv.Itoa(s.Patrol),
			strconv.Itoa(s.Evaluation),
			strconv.Itoa(s.Activity),
			strconv.Itoa(s.Total),
		})
		if err != nil {
			return err
		}
		if (i+1)%flushEvery == 0 {
			cw.Flush()
			flush(w)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNDJSON writes one JSON object per ranking entry.
func WriteNDJSON(ctx context.Context, w io.Writer, ranked []stats.ComprehensiveStat) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, s := range ranked {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(s); err != nil {
			return err
		}
		if (i+1)%flushEvery == 0 {
			flush(w)
		}
	}
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
