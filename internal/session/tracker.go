package session

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"engagement/internal/roster"
)

const distractionThreshold = 70

// Tracker holds the mutable state of one active session. It is not safe for
// concurrent use; the Engine loop is its only caller.
type Tracker struct {
	base     Record
	students []roster.Student

	elapsed  int
	overall  int
	samples  map[string][]float64
	history  []AttentionPoint
	alertLog []AlertEntry
	active   []Alert

	finalized bool
}

// NewTracker starts the state of a session over a fixed roster.
func NewTracker(id, teacherName, teacherID string, students []roster.Student, initialAttention int, start time.Time) *Tracker {
	list := append([]roster.Student(nil), students...)
	return &Tracker{
		base: Record{
			ID:            id,
			TeacherName:   teacherName,
			TeacherID:     teacherID,
			StartTime:     start,
			TotalStudents: len(list),
		},
		students: list,
		overall:  initialAttention,
		samples:  make(map[string][]float64, len(list)),
	}
}

// Tick advances the session clock by one second.
func (t *Tracker) Tick() int {
	t.elapsed++
	return t.elapsed
}

func (t *Tracker) Elapsed() int    { return t.elapsed }
func (t *Tracker) Overall() int    { return t.overall }
func (t *Tracker) Finalized() bool { return t.finalized }

// Round describes the input the sampler needs for the next round.
func (t *Tracker) Round() Round {
	return Round{SessionID: t.base.ID, Elapsed: t.elapsed, Previous: t.overall, Students: t.students}
}

// Apply records the reading of a round dispatched at elapsed second at and
// returns the alerts it raised.
func (t *Tracker) Apply(at int, r Reading, now time.Time) []Alert {
	t.overall = clampInt(r.Overall, 0, 100)
	t.history = append(t.history, AttentionPoint{Time: at, Attention: t.overall})

	for _, st := range t.students {
		if v, ok := r.Students[st.ID]; ok {
			t.samples[st.ID] = append(t.samples[st.ID], v)
		}
	}

	var alerts []Alert
	if r.HandRaised != nil {
		name := r.HandRaised.Name
		alerts = append(alerts, t.RecordAlert(at, AlertHand, fmt.Sprintf("%s raised their hand", name), name, now))
	}
	if t.overall < distractionThreshold {
		msg := fmt.Sprintf("%d%% of class appears distracted", 100-t.overall)
		alerts = append(alerts, t.RecordAlert(at, AlertDistraction, msg, "", now))
	}
	return alerts
}

// RecordAlert appends the alert to the permanent log at elapsed second at and
// makes it visible until expired.
func (t *Tracker) RecordAlert(at int, typ AlertType, message, studentName string, now time.Time) Alert {
	t.alertLog = append(t.alertLog, AlertEntry{Time: at, Type: typ, Message: message})
	a := Alert{
		ID:          uuid.NewString(),
		Type:        typ,
		Message:     message,
		StudentName: studentName,
		EmittedAt:   now,
	}
	t.active = append(t.active, a)
	return a
}

// ExpireAlert hides a visible alert. The log entry is kept.
func (t *Tracker) ExpireAlert(id string) bool {
	for i, a := range t.active {
		if a.ID == id {
			t.active = append(t.active[:i], t.active[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		SessionID:        t.base.ID,
		TeacherName:      t.base.TeacherName,
		TeacherID:        t.base.TeacherID,
		StartTime:        t.base.StartTime,
		Elapsed:          t.elapsed,
		OverallAttention: t.overall,
		DetectedStudents: len(t.students),
		ActiveAlerts:     append([]Alert{}, t.active...),
		AttentionData:    append([]AttentionPoint{}, t.history...),
		AlertCount:       len(t.alertLog),
		Finished:         t.finalized,
	}
}

// Finalize freezes the session into a record. It succeeds once.
func (t *Tracker) Finalize(end time.Time) (Record, error) {
	if t.finalized {
		return Record{}, ErrSessionStopped
	}
	t.finalized = true
	t.active = nil

	rec := t.base
	duration := t.elapsed
	rec.EndTime = &end
	rec.Duration = &duration
	rec.AttentionData = append([]AttentionPoint{}, t.history...)
	rec.Alerts = append([]AlertEntry{}, t.alertLog...)
	rec.StudentEngagement = make([]Engagement, 0, len(t.students))
	for _, st := range t.students {
		rec.StudentEngagement = append(rec.StudentEngagement, Engagement{
			StudentID:      st.ID,
			Name:           st.Name,
			AttentionScore: meanScore(t.samples[st.ID]),
		})
	}
	return rec, nil
}

func meanScore(samples []float64) int {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return clampInt(int(math.Round(sum/float64(len(samples)))), 0, 100)
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
