package progress

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_StampsSequenceAndRunID(t *testing.T) {
	rec := NewRecorder(10)
	stream := NewStream("run-1", rec)

	stream.Emit(Event{Kind: KindRunStarted, Message: "start"})
	stream.Emit(Event{Kind: KindPage, Seq: 99, RunID: "other", Page: 1})

	events := rec.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, "run-1", events[1].RunID)
	assert.False(t, events[0].At.IsZero())
	assert.False(t, events[1].At.Before(events[0].At))
}

func TestStream_NilIsNoop(t *testing.T) {
	var stream *Stream
	assert.NotPanics(t, func() { stream.Emit(Event{Kind: KindPage}) })
	assert.Empty(t, stream.RunID())
}

func TestRecorder_BoundedAndOrdered(t *testing.T) {
	rec := NewRecorder(3)
	stream := NewStream("r", rec)
	for i := 0; i < 5; i++ {
		stream.Emit(Event{Kind: KindPage, Page: i + 1})
	}

	events := rec.Since(0)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.Equal(t, int64(2), rec.Dropped())

	assert.Len(t, rec.Since(4), 1)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last.Page)
}

func TestRecorder_Empty(t *testing.T) {
	rec := NewRecorder(0)
	_, ok := rec.Last()
	assert.False(t, ok)
	assert.Empty(t, rec.Since(0))
}

func TestMulti_FansOutInOrder(t *testing.T) {
	var got []string
	m := Multi{
		SinkFunc(func(e Event) { got = append(got, "a:"+e.Message) }),
		nil,
		SinkFunc(func(e Event) { got = append(got, "b:"+e.Message) }),
	}
	NewStream("r", m).Emit(Event{Message: "x"})

	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestLogSink_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewStream("run-9", LogSink{Logger: logger}).Emit(Event{
		Kind:       KindPageFailed,
		Source:     "patrol",
		Page:       4,
		Streak:     2,
		Message:    "page 4 failed",
		Qualifying: 0,
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "page 4 failed", record["msg"])
	assert.Equal(t, "run-9", record["run_id"])
	assert.Equal(t, float64(4), record["page"])
}

func TestNATSSink_Publish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("Requires NATS - set NATS_URL to run")
	}

	sink, err := NewNATSSink(url, os.Getenv("NATS_TOKEN"), "patrolstats.test", nil)
	require.NoError(t, err)
	defer sink.Close()

	sub, err := sink.conn.SubscribeSync("patrolstats.test.>")
	require.NoError(t, err)

	NewStream("abc", sink).Emit(Event{Kind: KindRunStarted, Message: "hello"})

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(msg.Subject, ".abc"))

	var e Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "hello", e.Message)
}
