package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"engagement/internal/metrics"
	"engagement/internal/queue"
	"engagement/internal/roster"
)

var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrTeacherRequired = errors.New("teacher name and id required")
)

// Message types published to the event queue.
const (
	MessageAlert     = "session.alert"
	MessageFinalized = "session.finalized"
)

// Publisher receives session events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// AlertMessage is the body of a session.alert message.
type AlertMessage struct {
	SessionID string     `json:"session_id"`
	Entry     AlertEntry `json:"entry"`
}

// Manager coordinates the single active session and keeps the finished ones,
// most recent first, for the lifetime of the process.
type Manager struct {
	roster     *roster.Registry
	opts       Options
	newSampler func() AttentionSampler
	pub        Publisher
	log        *zap.Logger

	mu      sync.Mutex
	active  *Engine
	cancel  context.CancelFunc
	history []Record
}

// NewManager creates a manager. newSampler is called once per session; pub may be nil.
func NewManager(reg *roster.Registry, opts Options, newSampler func() AttentionSampler, pub Publisher) *Manager {
	if newSampler == nil {
		newSampler = func() AttentionSampler { return NewRandomWalkSampler(0) }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{roster: reg, opts: opts, newSampler: newSampler, pub: pub, log: log}
}

// StartSession starts tracking with the current roster.
func (m *Manager) StartSession(teacherName, teacherID string) (Snapshot, error) {
	teacherName = strings.TrimSpace(teacherName)
	teacherID = strings.TrimSpace(teacherID)
	if teacherName == "" || teacherID == "" {
		return Snapshot{}, ErrTeacherRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return Snapshot{}, ErrSessionActive
	}

	opts := m.opts
	opts.Sampler = m.newSampler()
	ctx, cancel := context.WithCancel(context.Background())
	e := Start(ctx, m.roster.List(), teacherName, teacherID, opts)
	m.active = e
	m.cancel = cancel

	events, _ := e.Subscribe(64)
	go m.forwardAlerts(e.ID(), events)

	return e.Snapshot()
}

// Active returns the running engine.
func (m *Manager) Active() (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNoActiveSession
	}
	return m.active, nil
}

// StopSession finalizes the active session and adds it to the history.
func (m *Manager) StopSession() (Record, error) {
	m.mu.Lock()
	e := m.active
	if e == nil {
		m.mu.Unlock()
		return Record{}, ErrNoActiveSession
	}
	rec, err := e.Stop()
	m.active = nil
	m.cancel()
	m.cancel = nil
	if err != nil {
		m.mu.Unlock()
		return Record{}, err
	}
	m.history = append([]Record{rec}, m.history...)
	m.mu.Unlock()

	m.publish(MessageFinalized, rec)
	return rec.Clone(), nil
}

// History returns finished sessions, most recent first.
func (m *Manager) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.history))
	for i, r := range m.history {
		out[i] = r.Clone()
	}
	return out
}

// Get returns one finished session.
func (m *Manager) Get(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.history {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return Record{}, ErrSessionNotFound
}

// Close tears down an active session without recording it.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.cancel()
	<-m.active.Done()
	m.active = nil
	m.cancel = nil
}

func (m *Manager) forwardAlerts(sessionID string, events <-chan Event) {
	for evt := range events {
		if evt.Kind != EventAlert || evt.Alert == nil {
			continue
		}
		m.publish(MessageAlert, AlertMessage{
			SessionID: sessionID,
			Entry: AlertEntry{
				Time:    evt.Snapshot.Elapsed,
				Type:    evt.Alert.Type,
				Message: evt.Alert.Message,
			},
		})
	}
}

func (m *Manager) publish(msgType string, body any) {
	if m.pub == nil {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		m.log.Error("encode queue message", zap.String("type", msgType), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.pub.Publish(ctx, queue.Message{Type: msgType, Body: data}); err != nil {
		metrics.QueuePublishFailures.Inc()
		m.log.Warn("queue publish failed", zap.String("type", msgType), zap.Error(err))
	}
}
