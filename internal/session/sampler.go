package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"engagement/internal/detector"
	"engagement/internal/roster"
)

// ErrSamplingUnavailable marks a round the sampler could not produce. The engine
// skips such rounds and keeps the last known attention.
var ErrSamplingUnavailable = errors.New("sampling unavailable")

// Round is the input of one sampling round. Elapsed is the session clock when
// the round was dispatched; its reading and alerts are stamped with it.
type Round struct {
	SessionID string
	Elapsed   int
	Previous  int
	Students  []roster.Student
}

// Reading is one observation: class-wide attention, raw per-student samples keyed
// by student id, and optionally the student seen raising a hand.
type Reading struct {
	Overall    int
	Students   map[string]float64
	HandRaised *roster.Student
}

// AttentionSampler produces the next reading of an active session.
type AttentionSampler interface {
	NextReading(ctx context.Context, r Round) (Reading, error)
}

const (
	overallStep     = 10.0
	overallMin      = 40.0
	overallMax      = 100.0
	studentBaseline = 70.0
	studentSpread   = 20.0
	studentMin      = 30.0
	studentMax      = 100.0
	handRaiseChance = 0.1
)

// RandomWalkSampler simulates a classroom with uniform random draws.
type RandomWalkSampler struct {
	rng *rand.Rand
}

// NewRandomWalkSampler creates a sampler. A zero seed draws a random one.
func NewRandomWalkSampler(seed uint64) *RandomWalkSampler {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomWalkSampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomWalkSampler) NextReading(_ context.Context, r Round) (Reading, error) {
	next := clamp(float64(r.Previous)+s.uniform(overallStep), overallMin, overallMax)
	reading := Reading{
		Overall:  int(math.Round(next)),
		Students: make(map[string]float64, len(r.Students)),
	}
	for _, st := range r.Students {
		reading.Students[st.ID] = clamp(studentBaseline+s.uniform(studentSpread), studentMin, studentMax)
	}
	if s.rng.Float64() > 1-handRaiseChance && len(r.Students) > 0 {
		st := r.Students[s.rng.IntN(len(r.Students))]
		reading.HandRaised = &st
	}
	return reading, nil
}

// uniform draws from [-spread, +spread].
func (s *RandomWalkSampler) uniform(spread float64) float64 {
	return (s.rng.Float64() - 0.5) * 2 * spread
}

// Observer is the detector capability used by DetectorSampler.
type Observer interface {
	Observe(ctx context.Context, sessionID string, studentIDs []string) (*detector.Observation, error)
}

// DetectorSampler reads attention from an external detector service.
type DetectorSampler struct {
	client Observer
}

func NewDetectorSampler(client Observer) *DetectorSampler {
	return &DetectorSampler{client: client}
}

func (s *DetectorSampler) NextReading(ctx context.Context, r Round) (Reading, error) {
	ids := make([]string, len(r.Students))
	for i, st := range r.Students {
		ids[i] = st.ID
	}
	obs, err := s.client.Observe(ctx, r.SessionID, ids)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrSamplingUnavailable, err)
	}

	reading := Reading{
		Overall:  int(math.Round(clamp(obs.Overall, 0, 100))),
		Students: make(map[string]float64, len(obs.Students)),
	}
	for _, st := range r.Students {
		if v, ok := obs.Students[st.ID]; ok {
			reading.Students[st.ID] = clamp(v, 0, 100)
		}
		if obs.HandRaised != "" && obs.HandRaised == st.ID {
			raised := st
			reading.HandRaised = &raised
		}
	}
	return reading, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
