package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement/internal/queue"
	"engagement/internal/roster"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) ofType(typ string) []queue.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []queue.Message
	for _, m := range p.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func newRegistry(t *testing.T, ids ...string) *roster.Registry {
	t.Helper()
	reg := roster.NewRegistry()
	for _, id := range ids {
		_, err := reg.Register(id, "name-"+id, [][]byte{{1}, {2}, {3}})
		require.NoError(t, err)
	}
	return reg
}

func TestManagerLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(newRegistry(t, "a", "b"), idle(nil), nil, pub)

	snap, err := m.StartSession(" Ms Lovelace ", "T-42")
	require.NoError(t, err)
	assert.Equal(t, "Ms Lovelace", snap.TeacherName)
	assert.Equal(t, 2, snap.DetectedStudents)

	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, active.ID())

	_, err = m.StartSession("Other", "T-1")
	assert.ErrorIs(t, err, ErrSessionActive)

	rec, err := m.StopSession()
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, rec.ID)
	assert.Len(t, rec.StudentEngagement, 2)

	_, err = m.Active()
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = m.StopSession()
	assert.ErrorIs(t, err, ErrNoActiveSession)

	got, err := m.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	finalized := pub.ofType(MessageFinalized)
	require.Len(t, finalized, 1)
	var published Record
	require.NoError(t, json.Unmarshal(finalized[0].Body, &published))
	assert.Equal(t, rec.ID, published.ID)
}

func TestManagerRequiresTeacher(t *testing.T) {
	m := NewManager(newRegistry(t), idle(nil), nil, nil)

	_, err := m.StartSession("", "T-1")
	assert.ErrorIs(t, err, ErrTeacherRequired)
	_, err = m.StartSession("Ms Lovelace", "  ")
	assert.ErrorIs(t, err, ErrTeacherRequired)
}

func TestManagerHistoryMostRecentFirst(t *testing.T) {
	m := NewManager(newRegistry(t, "a"), idle(nil), nil, nil)

	var ids []string
	for range 3 {
		_, err := m.StartSession("T", "1")
		require.NoError(t, err)
		rec, err := m.StopSession()
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	history := m.History()
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)
	assert.Equal(t, ids[0], history[2].ID)

	history[0].TeacherName = "mutated"
	again, _ := m.Get(ids[2])
	assert.Equal(t, "T", again.TeacherName)

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRosterSnapshotAtStart(t *testing.T) {
	reg := newRegistry(t, "a")
	m := NewManager(reg, idle(nil), nil, nil)

	_, err := m.StartSession("T", "1")
	require.NoError(t, err)
	_, err = reg.Register("late", "Late", [][]byte{{1}, {2}, {3}})
	require.NoError(t, err)

	rec, err := m.StopSession()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalStudents)
	assert.Len(t, rec.StudentEngagement, 1)
}

func TestManagerForwardsAlerts(t *testing.T) {
	pub := &recordingPublisher{}
	opts := Options{
		ClockInterval:  time.Hour,
		SampleInterval: 2 * time.Millisecond,
		AlertWindow:    time.Hour,
	}
	distracted := func() AttentionSampler {
		return samplerFunc(func(context.Context, Round) (Reading, error) { return Reading{Overall: 60}, nil })
	}
	m := NewManager(newRegistry(t), opts, distracted, pub)

	snap, err := m.StartSession("T", "1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(pub.ofType(MessageAlert)) > 0 }, 2*time.Second, 5*time.Millisecond)
	_, err = m.StopSession()
	require.NoError(t, err)

	var msg AlertMessage
	require.NoError(t, json.Unmarshal(pub.ofType(MessageAlert)[0].Body, &msg))
	assert.Equal(t, snap.SessionID, msg.SessionID)
	assert.Equal(t, AlertDistraction, msg.Entry.Type)
	assert.Equal(t, "40% of class appears distracted", msg.Entry.Message)
}

func TestManagerCloseDiscardsActive(t *testing.T) {
	m := NewManager(newRegistry(t), idle(nil), nil, nil)
	_, err := m.StartSession("T", "1")
	require.NoError(t, err)
	active, _ := m.Active()

	m.Close()

	select {
	case <-active.Done():
	default:
		t.Fatal("engine still running after close")
	}
	assert.Empty(t, m.History())
	_, err = m.Active()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}
