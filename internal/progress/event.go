package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StageWaveDone  Stage = "WAVE_DONE"
	StageFetchDone Stage = "FETCH_DONE"
)

// Phase names the pipeline step an event belongs to.
type Phase string

// Pipeline phases.
const (
	PhaseCrawl  Phase = "crawl"
	PhaseMap    Phase = "map"
	PhaseReduce Phase = "reduce"
	PhaseIndex  Phase = "index"
)

// Outcome classifies how a single fetch task ended.
type Outcome string

// Fetch task outcomes.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	OutcomePanic   Outcome = "panic"
)

// Event captures a single milestone of a crawl or index run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Phase Phase
	// Site is the host label for fetch events.
	Site string
	URL  string
	// Outcome is set on fetch events.
	Outcome Outcome
	// Items counts what the step produced: links for a crawl fetch, tokens
	// for a map fetch, URLs dequeued for a wave.
	Items int64
	// Admitted counts URLs added to the visited set by a crawl wave.
	Admitted int64
	// Wave is the 1-based wave (crawl) or window (map) number.
	Wave int
	Dur  time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Phase == "" {
		return errors.New("phase is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageWaveDone:
		if e.Wave <= 0 {
			return errors.New("wave done requires a wave number")
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Recorder stamps events for one run and forwards them to an Emitter. A nil
// Recorder, or one with a nil Emitter, drops everything.
type Recorder struct {
	emitter Emitter
	runID   [16]byte
	phase   Phase
	now     func() time.Time
}

// NewRecorder returns a Recorder for runID/phase. now defaults to time.Now.
func NewRecorder(emitter Emitter, runID uuid.UUID, phase Phase, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{emitter: emitter, runID: UUIDToBytes(runID), phase: phase, now: now}
}

// Record fills in RunID, Phase and TS and emits evt.
func (r *Recorder) Record(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Phase = r.phase
	if evt.TS.IsZero() {
		evt.TS = r.now().UTC()
	}
	r.emitter.Emit(evt)
}
