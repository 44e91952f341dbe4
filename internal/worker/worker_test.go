package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"engagement/internal/metrics"
	"engagement/internal/queue"
	"engagement/internal/report"
	"engagement/internal/session"
)

func finishedRecord() session.Record {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Second)
	duration := 10
	return session.Record{
		ID:            "sess-1",
		TeacherName:   "Ms Lovelace",
		TeacherID:     "T-42",
		StartTime:     start,
		EndTime:       &end,
		Duration:      &duration,
		TotalStudents: 1,
		AttentionData: []session.AttentionPoint{{Time: 3, Attention: 66}},
		StudentEngagement: []session.Engagement{
			{StudentID: "a", Name: "Ada", AttentionScore: 71},
		},
		Alerts: []session.AlertEntry{{Time: 3, Type: session.AlertDistraction, Message: "34% of class appears distracted"}},
	}
}

func message(t *testing.T, typ string, body any) queue.Message {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return queue.Message{Type: typ, Body: data}
}

func TestHandleFinalizedArchivesReport(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dir := filepath.Join(t.TempDir(), "reports")
	w := New(zap.New(core), time.UTC, dir)
	rec := finishedRecord()

	require.NoError(t, w.Handle(message(t, session.MessageFinalized, rec)))

	data, err := os.ReadFile(filepath.Join(dir, "session-report-sess-1.csv"))
	require.NoError(t, err)
	assert.Equal(t, report.ToCSV(rec, time.UTC), string(data))

	entries := logs.FilterMessage("session finalized").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.EqualValues(t, 66, fields["average_attention"])
	assert.Equal(t, "Ada", fields["most_engaged"])
}

func TestHandleFinalizedRejectsUnsafeSessionIDs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "reports")
	w := New(nil, time.UTC, dir)

	for _, id := range []string{"", "../escape", "nested/escape"} {
		rec := finishedRecord()
		rec.ID = id
		assert.Error(t, w.Handle(message(t, session.MessageFinalized, rec)), "id %q", id)
	}

	matches, err := filepath.Glob(filepath.Join(root, "*.csv"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "nothing is written for rejected ids")
}

func TestHandleAlert(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := New(zap.New(core), time.UTC, "")

	err := w.Handle(message(t, session.MessageAlert, session.AlertMessage{
		SessionID: "sess-1",
		Entry:     session.AlertEntry{Time: 6, Type: session.AlertHand, Message: "Ada raised their hand"},
	}))
	require.NoError(t, err)

	entries := logs.FilterMessage("session alert").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hand", entries[0].ContextMap()["alert_type"])
}

func TestHandleRejectsBadBodies(t *testing.T) {
	w := New(nil, time.UTC, "")

	assert.Error(t, w.Handle(queue.Message{Type: session.MessageFinalized, Body: []byte("{")}))
	assert.Error(t, w.Handle(queue.Message{Type: session.MessageAlert, Body: []byte("nope")}))
	assert.NoError(t, w.Handle(queue.Message{Type: "checkin", Body: []byte("x")}))
}

func TestRunConsumesInMemoryQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(4)
	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	w := New(nil, time.UTC, "")
	done := make(chan struct{})
	go func() {
		w.Run(ctx, messages)
		close(done)
	}()

	before := testutil.ToFloat64(metrics.WorkerMessages.WithLabelValues(session.MessageFinalized, "ok"))
	require.NoError(t, q.Publish(ctx, message(t, session.MessageFinalized, finishedRecord())))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WorkerMessages.WithLabelValues(session.MessageFinalized, "ok")) == before+1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
