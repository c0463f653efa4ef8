package scene

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SubCall - a network call made during an attempt
type SubCall string

const (
	CallIdentify        SubCall = "identify model"
	CallFetchBackground SubCall = "fetch background"
	CallGenerate        SubCall = "generate image"
	CallRegenerate      SubCall = "regenerate"
)

// ProgressFunc - receives human-readable progress; observational only
type ProgressFunc func(message string)

// Attempt - runtime record of one orchestrator run
type Attempt struct {
	Id        string
	StartedAt time.Time

	mu       sync.Mutex
	state    State
	progress []string
	calls    []SubCall
	warning  string
	artifact *Artifact
	err      error

	onProgress ProgressFunc
	log        zerolog.Logger
}

func newAttempt(id string, onProgress ProgressFunc, log zerolog.Logger) *Attempt {
	return &Attempt{
		Id:         id,
		StartedAt:  time.Now(),
		state:      StateIdle,
		onProgress: onProgress,
		log:        log,
	}
}

// transition - move to state and report msg (skipped when empty)
func (a *Attempt) transition(state State, msg string) {
	a.mu.Lock()
	from := a.state
	a.state = state
	if msg != "" {
		a.progress = append(a.progress, msg)
	}
	a.mu.Unlock()

	a.log.Debug().Msgf("🔀 [Scene] Attempt %s: %s -> %s", a.Id, from, state)
	if msg != "" {
		a.notify(msg)
	}
}

// notify - a panicking callback is logged and ignored
func (a *Attempt) notify(msg string) {
	if a.onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn().Msgf("⚠️  [Scene] Progress callback panicked: %v", r)
		}
	}()
	a.onProgress(msg)
}

func (a *Attempt) record(call SubCall) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()
}

func (a *Attempt) setWarning(msg string) {
	a.mu.Lock()
	a.warning = msg
	a.mu.Unlock()
}

func (a *Attempt) succeed(artifact *Artifact, msg string) {
	a.mu.Lock()
	a.artifact = artifact
	a.mu.Unlock()
	a.transition(StateDone, msg)
}

func (a *Attempt) fail(err error) error {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.transition(StateFailed, "")
	return err
}

// State - current state
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Progress - messages emitted so far, in order
func (a *Attempt) Progress() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.progress...)
}

// Calls - network calls made so far, in order
func (a *Attempt) Calls() []SubCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SubCall(nil), a.calls...)
}

// Warning - non-blocking warning (failed identification), "" if none
func (a *Attempt) Warning() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warning
}

// Artifact - result on success
func (a *Attempt) Artifact() *Artifact {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.artifact
}

// Err - failure reason
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
