package roster

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FacePhotos is the number of photos captured for every registration.
const FacePhotos = 3

var (
	ErrInvalidStudent   = errors.New("student id and name required")
	ErrFaceDataCount    = fmt.Errorf("exactly %d face photos required", FacePhotos)
	ErrDuplicateStudent = errors.New("student already registered")
	ErrStudentNotFound  = errors.New("student not found")
)

// Student is a registered student. The face data is kept as captured and never analysed.
type Student struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FaceData     [][]byte  `json:"-"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry keeps the roster in registration order for the lifetime of the process.
type Registry struct {
	mu       sync.RWMutex
	students []Student
	index    map[string]int
	now      func() time.Time
}

// NewRegistry creates an empty roster.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int), now: time.Now}
}

// Register validates and stores a new student.
func (r *Registry) Register(id, name string, faceData [][]byte) (Student, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return Student{}, ErrInvalidStudent
	}
	if len(faceData) != FacePhotos {
		return Student{}, fmt.Errorf("%w: got %d", ErrFaceDataCount, len(faceData))
	}
	photos := make([][]byte, len(faceData))
	for i, p := range faceData {
		if len(p) == 0 {
			return Student{}, fmt.Errorf("%w: photo %d is empty", ErrFaceDataCount, i+1)
		}
		photos[i] = append([]byte(nil), p...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[id]; ok {
		return Student{}, fmt.Errorf("%w: %s", ErrDuplicateStudent, id)
	}
	st := Student{ID: id, Name: name, FaceData: photos, RegisteredAt: r.now().UTC()}
	r.index[id] = len(r.students)
	r.students = append(r.students, st)
	return st, nil
}

// List returns the roster in registration order.
func (r *Registry) List() []Student {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Student, len(r.students))
	copy(out, r.students)
	return out
}

// Get returns one student by id.
func (r *Registry) Get(id string) (Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return r.students[i], nil
}

// Len reports the roster size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.students)
}

// DecodeDataURL accepts "data:image/jpeg;base64,..." or bare base64 and returns the raw bytes.
func DecodeDataURL(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		comma := strings.IndexByte(data, ',')
		if comma < 0 || !strings.HasSuffix(data[:comma], ";base64") {
			return nil, errors.New("unsupported data url")
		}
		data = data[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty photo")
	}
	return raw, nil
}
