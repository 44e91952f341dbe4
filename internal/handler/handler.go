package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"engagement/internal/report"
	"engagement/internal/roster"
	"engagement/internal/session"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Handler serves the roster, session and report API.
type Handler struct {
	roster   *roster.Registry
	sessions *session.Manager
	redis    HealthChecker
	queue    string
	location *time.Location
	log      *zap.Logger
}

// Deps are the collaborators of the HTTP layer. Redis may be nil when the memory queue is used.
type Deps struct {
	Roster       *roster.Registry
	Sessions     *session.Manager
	Redis        HealthChecker
	QueueBackend string
	Location     *time.Location
	Logger       *zap.Logger
}

func New(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		roster:   d.Roster,
		sessions: d.Sessions,
		redis:    d.Redis,
		queue:    d.QueueBackend,
		location: loc,
		log:      log,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.POST("/students", h.registerStudent)
	api.GET("/students", h.listStudents)
	api.GET("/students/:id", h.getStudent)

	api.POST("/sessions", h.startSession)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/active", h.activeSession)
	api.GET("/sessions/active/stream", h.streamSession)
	api.GET("/sessions/active/ws", h.socketSession)
	api.POST("/sessions/active/stop", h.stopSession)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/sessions/:id/export.csv", h.exportSession)
}

func (h *Handler) health(c *gin.Context) {
	redisHealthy := false
	if h.redis != nil {
		redisHealthy = h.redis.Healthy(c.Request.Context())
	}
	status := http.StatusOK
	if h.queue == "redis" && !redisHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "queue": h.queue})
}

type studentView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Photos       int       `json:"photos"`
	RegisteredAt time.Time `json:"registered_at"`
}

func viewOf(st roster.Student) studentView {
	return studentView{ID: st.ID, Name: st.Name, Photos: len(st.FaceData), RegisteredAt: st.RegisteredAt}
}

func (h *Handler) registerStudent(c *gin.Context) {
	var (
		id, name string
		photos   [][]byte
		err      error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		id, name = c.PostForm("id"), c.PostForm("name")
		photos, err = readMultipartPhotos(c)
	} else {
		var req struct {
			ID     string   `json:"id"`
			Name   string   `json:"name"`
			Photos []string `json:"photos"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, name = req.ID, req.Name
		photos, err = decodePhotos(req.Photos)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.roster.Register(id, name, photos)
	if err != nil {
		writeError(c, err)
		return
	}
	h.log.Info("student registered", zap.String("student_id", st.ID))
	c.JSON(http.StatusCreated, viewOf(st))
}

func decodePhotos(encoded []string) ([][]byte, error) {
	out := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		raw, err := roster.DecodeDataURL(e)
		if err != nil {
			return nil, fmt.Errorf("photo %d: %w", i+1, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func readMultipartPhotos(c *gin.Context) ([][]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	files := form.File["photos"]
	out := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func (h *Handler) listStudents(c *gin.Context) {
	students := h.roster.List()
	views := make([]studentView, len(students))
	for i, st := range students {
		views[i] = viewOf(st)
	}
	c.JSON(http.StatusOK, gin.H{"students": views, "count": len(views)})
}

func (h *Handler) getStudent(c *gin.Context) {
	st, err := h.roster.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		TeacherName string `json:"teacher_name"`
		TeacherID   string `json:"teacher_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.sessions.StartSession(req.TeacherName, req.TeacherID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *Handler) activeSession(c *gin.Context) {
	e, err := h.sessions.Active()
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := e.Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// streamSession pushes every engine event as a server-sent event until the
// session ends or the client goes away.
func (h *Handler) streamSession(c *gin.Context) {
	e, err := h.sessions.Active()
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := e.Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	events, unsubscribe := e.Subscribe(64)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", snap)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Kind), evt)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type recordView struct {
	Record  session.Record `json:"record"`
	Summary report.Summary `json:"summary"`
}

func (h *Handler) stopSession(c *gin.Context) {
	rec, err := h.sessions.StopSession()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordView{Record: rec, Summary: report.Summarize(rec)})
}

type historyItem struct {
	ID               string    `json:"id"`
	TeacherName      string    `json:"teacher_name"`
	TeacherID        string    `json:"teacher_id"`
	StartTime        time.Time `json:"start_time"`
	TotalStudents    int       `json:"total_students"`
	AverageAttention int       `json:"average_attention"`
	Duration         string    `json:"duration"`
}

func (h *Handler) listSessions(c *gin.Context) {
	history := h.sessions.History()
	items := make([]historyItem, len(history))
	for i, rec := range history {
		duration := "N/A"
		if rec.Duration != nil {
			duration = report.FormatShortDuration(*rec.Duration)
		}
		items[i] = historyItem{
			ID:               rec.ID,
			TeacherName:      rec.TeacherName,
			TeacherID:        rec.TeacherID,
			StartTime:        rec.StartTime,
			TotalStudents:    rec.TotalStudents,
			AverageAttention: report.AverageAttention(rec),
			Duration:         duration,
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": items})
}

func (h *Handler) getSession(c *gin.Context) {
	rec, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordView{Record: rec, Summary: report.Summarize(rec)})
}

func (h *Handler) exportSession(c *gin.Context) {
	rec, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.ExportFilename(rec)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(report.ToCSV(rec, h.location)))
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, roster.ErrInvalidStudent),
		errors.Is(err, roster.ErrFaceDataCount),
		errors.Is(err, session.ErrTeacherRequired):
		status = http.StatusBadRequest
	case errors.Is(err, roster.ErrStudentNotFound),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionStopped):
		status = http.StatusNotFound
	case errors.Is(err, roster.ErrDuplicateStudent),
		errors.Is(err, session.ErrSessionActive):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
