package session

import "time"

// AlertType distinguishes simulated classroom events.
type AlertType string

const (
	AlertHand        AlertType = "hand"
	AlertDistraction AlertType = "distraction"
)

// AttentionPoint is one class-wide reading at an offset in seconds from the session start.
type AttentionPoint struct {
	Time      int `json:"time"`
	Attention int `json:"attention"`
}

// Engagement is the final averaged score of one roster student.
type Engagement struct {
	StudentID      string `json:"student_id"`
	Name           string `json:"name"`
	AttentionScore int    `json:"attention_score"`
}

// AlertEntry is the compact form of an alert kept in the session log.
type AlertEntry struct {
	Time    int       `json:"time"`
	Type    AlertType `json:"type"`
	Message string    `json:"message"`
}

// Alert is shown to the teacher for a fixed window after it is emitted.
type Alert struct {
	ID          string    `json:"id"`
	Type        AlertType `json:"type"`
	Message     string    `json:"message"`
	StudentName string    `json:"student_name,omitempty"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// Record is a finalized session. EndTime and Duration are set together at finalize.
type Record struct {
	ID                string           `json:"id"`
	TeacherName       string           `json:"teacher_name"`
	TeacherID         string           `json:"teacher_id"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           *time.Time       `json:"end_time,omitempty"`
	Duration          *int             `json:"duration,omitempty"`
	TotalStudents     int              `json:"total_students"`
	AttentionData     []AttentionPoint `json:"attention_data"`
	StudentEngagement []Engagement     `json:"student_engagement"`
	Alerts            []AlertEntry     `json:"alerts"`
}

// Clone returns a deep copy so callers cannot reach into stored history.
func (r Record) Clone() Record {
	out := r
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	if r.Duration != nil {
		d := *r.Duration
		out.Duration = &d
	}
	out.AttentionData = append([]AttentionPoint{}, r.AttentionData...)
	out.StudentEngagement = append([]Engagement{}, r.StudentEngagement...)
	out.Alerts = append([]AlertEntry{}, r.Alerts...)
	return out
}

// Snapshot is an immutable view of an active session handed to observers.
type Snapshot struct {
	SessionID        string           `json:"session_id"`
	TeacherName      string           `json:"teacher_name"`
	TeacherID        string           `json:"teacher_id"`
	StartTime        time.Time        `json:"start_time"`
	Elapsed          int              `json:"elapsed"`
	OverallAttention int              `json:"overall_attention"`
	DetectedStudents int              `json:"detected_students"`
	ActiveAlerts     []Alert          `json:"active_alerts"`
	AttentionData    []AttentionPoint `json:"attention_data"`
	AlertCount       int              `json:"alert_count"`
	Finished         bool             `json:"finished"`
}

// EventKind names what changed in an engine event.
type EventKind string

const (
	EventTick         EventKind = "tick"
	EventSample       EventKind = "sample"
	EventAlert        EventKind = "alert"
	EventAlertExpired EventKind = "alert_expired"
	EventStopped      EventKind = "stopped"
	EventAborted      EventKind = "aborted"
)

// Event is delivered to subscribers after every state change.
type Event struct {
	Kind     EventKind `json:"kind"`
	Alert    *Alert    `json:"alert,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
}
