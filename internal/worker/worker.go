package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"engagement/internal/metrics"
	"engagement/internal/queue"
	"engagement/internal/report"
	"engagement/internal/session"
)

// Worker consumes session events: it logs alerts and summarizes, and
// optionally archives, every finalized session.
type Worker struct {
	log       *zap.Logger
	location  *time.Location
	reportDir string
}

// New creates a worker. An empty reportDir disables CSV archiving.
func New(log *zap.Logger, location *time.Location, reportDir string) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{log: log, location: location, reportDir: reportDir}
}

// Run handles messages until the channel closes or ctx is done.
func (w *Worker) Run(ctx context.Context, messages <-chan queue.Message) {
	w.log.Info("worker started, waiting for messages")
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				w.log.Info("worker stopped")
				return
			}
			outcome := "ok"
			if err := w.Handle(msg); err != nil {
				outcome = "error"
				w.log.Warn("message failed", zap.String("type", msg.Type), zap.Error(err))
			}
			metrics.WorkerMessages.WithLabelValues(msg.Type, outcome).Inc()
		case <-ctx.Done():
			w.log.Info("worker stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// Handle processes one message. Unknown types are ignored.
func (w *Worker) Handle(msg queue.Message) error {
	switch msg.Type {
	case session.MessageAlert:
		var alert session.AlertMessage
		if err := json.Unmarshal(msg.Body, &alert); err != nil {
			return fmt.Errorf("decode alert: %w", err)
		}
		w.log.Info("session alert",
			zap.String("session_id", alert.SessionID),
			zap.Int("time", alert.Entry.Time),
			zap.String("alert_type", string(alert.Entry.Type)),
			zap.String("message", alert.Entry.Message))
		return nil

	case session.MessageFinalized:
		var rec session.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		sum := report.Summarize(rec)
		fields := []zap.Field{
			zap.String("session_id", rec.ID),
			zap.String("teacher_id", rec.TeacherID),
			zap.Int("students", rec.TotalStudents),
			zap.Int("average_attention", sum.AverageAttention),
			zap.String("duration", sum.Duration),
			zap.Int("hand_raises", sum.HandRaises),
			zap.Int("distractions", sum.Distractions),
		}
		if sum.MostEngaged != nil {
			fields = append(fields, zap.String("most_engaged", sum.MostEngaged.Name))
		}
		if sum.LeastEngaged != nil {
			fields = append(fields, zap.String("least_engaged", sum.LeastEngaged.Name))
		}
		w.log.Info("session finalized", fields...)
		return w.archive(rec)

	default:
		w.log.Debug("ignoring message", zap.String("type", msg.Type))
		return nil
	}
}

func (w *Worker) archive(rec session.Record) error {
	if w.reportDir == "" {
		return nil
	}
	name := report.ExportFilename(rec)
	if rec.ID == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid session id %q", rec.ID)
	}
	if err := os.MkdirAll(w.reportDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(w.reportDir, name)
	if err := os.WriteFile(path, []byte(report.ToCSV(rec, w.location)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	w.log.Info("report archived", zap.String("path", path))
	return nil
}
