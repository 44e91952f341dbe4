// Package report derives statistics and exports from finalized session records.
// Every function is pure.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"engagement/internal/session"
)

// LocaleLayout renders timestamps the way an en-US browser locale does.
const LocaleLayout = "1/2/2006, 3:04:05 PM"

const notAvailable = "N/A"

// AverageAttention is the rounded mean of the attention samples, 0 when there are none.
func AverageAttention(rec session.Record) int {
	if len(rec.AttentionData) == 0 {
		return 0
	}
	var sum int
	for _, p := range rec.AttentionData {
		sum += p.Attention
	}
	return int(math.Round(float64(sum) / float64(len(rec.AttentionData))))
}

// MostEngaged returns the highest scoring student; ties go to the first in roster order.
func MostEngaged(rec session.Record) (session.Engagement, bool) {
	return pick(rec.StudentEngagement, func(a, b int) bool { return a > b })
}

// LeastEngaged returns the lowest scoring student; ties go to the first in roster order.
func LeastEngaged(rec session.Record) (session.Engagement, bool) {
	return pick(rec.StudentEngagement, func(a, b int) bool { return a < b })
}

func pick(entries []session.Engagement, better func(a, b int) bool) (session.Engagement, bool) {
	if len(entries) == 0 {
		return session.Engagement{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if better(e.AttentionScore, best.AttentionScore) {
			best = e
		}
	}
	return best, true
}

// FormatDuration renders seconds as "1h 0m 5s", or "1m 5s" below an hour.
func FormatDuration(seconds int) string {
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// FormatShortDuration drops the seconds: "1h 2m" or "2m".
func FormatShortDuration(seconds int) string {
	h, m := seconds/3600, (seconds%3600)/60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// FormatTimeLabel renders a chart axis offset as m:ss.
func FormatTimeLabel(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// ExportFilename is the download name of a CSV export.
func ExportFilename(rec session.Record) string {
	return "session-report-" + rec.ID + ".csv"
}

// Summary bundles the derived statistics shown on a report screen.
type Summary struct {
	AverageAttention int                 `json:"average_attention"`
	MostEngaged      *session.Engagement `json:"most_engaged,omitempty"`
	LeastEngaged     *session.Engagement `json:"least_engaged,omitempty"`
	Duration         string              `json:"duration"`
	ShortDuration    string              `json:"short_duration"`
	AlertCount       int                 `json:"alert_count"`
	HandRaises       int                 `json:"hand_raises"`
	Distractions     int                 `json:"distractions"`
	AttentionLabels  []string            `json:"attention_labels"`
}

func Summarize(rec session.Record) Summary {
	sum := Summary{
		AverageAttention: AverageAttention(rec),
		Duration:         notAvailable,
		ShortDuration:    notAvailable,
		AlertCount:       len(rec.Alerts),
		AttentionLabels:  make([]string, len(rec.AttentionData)),
	}
	if most, ok := MostEngaged(rec); ok {
		sum.MostEngaged = &most
	}
	if least, ok := LeastEngaged(rec); ok {
		sum.LeastEngaged = &least
	}
	if rec.Duration != nil {
		sum.Duration = FormatDuration(*rec.Duration)
		sum.ShortDuration = FormatShortDuration(*rec.Duration)
	}
	for _, a := range rec.Alerts {
		switch a.Type {
		case session.AlertHand:
			sum.HandRaises++
		case session.AlertDistraction:
			sum.Distractions++
		}
	}
	for i, p := range rec.AttentionData {
		sum.AttentionLabels[i] = FormatTimeLabel(p.Time)
	}
	return sum
}

// ToCSV renders the export with timestamps in loc (time.Local when nil).
func ToCSV(rec session.Record, loc *time.Location) string {
	var b strings.Builder
	_ = WriteCSV(&b, rec, loc)
	return b.String()
}

// WriteCSV writes the four-section export: metadata, per-student engagement,
// attention over time and the alert log. Rows are comma separated without
// quoting and joined by "\n" with no trailing newline.
func WriteCSV(w io.Writer, rec session.Record, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	endTime := notAvailable
	if rec.EndTime != nil {
		endTime = rec.EndTime.In(loc).Format(LocaleLayout)
	}
	duration := notAvailable
	if rec.Duration != nil && *rec.Duration > 0 {
		duration = FormatDuration(*rec.Duration)
	}

	rows := [][]string{
		{"Session Report"},
		{""},
		{"Session ID", rec.ID},
		{"Teacher Name", rec.TeacherName},
		{"Teacher ID", rec.TeacherID},
		{"Start Time", rec.StartTime.In(loc).Format(LocaleLayout)},
		{"End Time", endTime},
		{"Duration", duration},
		{"Total Students", strconv.Itoa(rec.TotalStudents)},
		{""},
		{"Student Engagement Data"},
		{"Student ID", "Student Name", "Attention Score (%)"},
	}
	for _, s := range rec.StudentEngagement {
		rows = append(rows, []string{s.StudentID, s.Name, strconv.Itoa(s.AttentionScore)})
	}
	rows = append(rows,
		[]string{""},
		[]string{"Attention Over Time"},
		[]string{"Time (seconds)", "Attention (%)"},
	)
	for _, p := range rec.AttentionData {
		rows = append(rows, []string{strconv.Itoa(p.Time), strconv.Itoa(p.Attention)})
	}
	rows = append(rows,
		[]string{""},
		[]string{"Alerts Log"},
		[]string{"Time (seconds)", "Type", "Message"},
	)
	for _, a := range rec.Alerts {
		rows = append(rows, []string{strconv.Itoa(a.Time), string(a.Type), a.Message})
	}

	for i, row := range rows {
		line := strings.Join(row, ",")
		if i > 0 {
			line = "\n" + line
		}
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
