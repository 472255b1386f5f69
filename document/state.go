// Package document tracks the processing state of a single RFC XML
// document: validity of the latest snapshot, the debounce timer that
// requests a conversion, the cached artifact and the diagnostics of the
// last completed conversion.
package document

import (
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/dhamidi/rfclive/diagnostic"
)

var log = commonlog.GetLogger("rfclive.document")

// Status is the observable state of a State.
type Status int

const (
	StatusIdle Status = iota
	StatusArmedPending
	StatusProcessing
	StatusCached
	StatusFailed
	StatusDisposed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusArmedPending:
		return "armed"
	case StatusProcessing:
		return "processing"
	case StatusCached:
		return "cached"
	case StatusFailed:
		return "failed"
	case StatusDisposed:
		return "disposed"
	}
	return "unknown"
}

// Panel is the preview surface attached to a document.
type Panel interface {
	Dispose()
}

type Options struct {
	// RootElement is the document element that marks RFC XML.
	RootElement string
	Debounce    time.Duration
	Clock       Clock
	Queue       *Queue
}

type State struct {
	mu sync.Mutex

	id       Identity
	root     string
	debounce time.Duration
	clock    Clock
	queue    *Queue

	content    string
	hasContent bool
	revision   uint64
	validation Validation

	processing    bool
	processingRev uint64
	failed        bool
	lastErr       error
	diagnostics   []diagnostic.Record
	artifact      []byte

	timer    Timer
	timerGen uint64

	panel    Panel
	disposed bool
}

func New(id Identity, opts Options) *State {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewQueue()
	}
	return &State{
		id:       id,
		root:     opts.RootElement,
		debounce: opts.Debounce,
		clock:    clock,
		queue:    queue,
	}
}

func (s *State) Identity() Identity {
	return s.id
}

// UpdateFromContent records a new snapshot. Identical content is a no-op.
// A snapshot that newly needs processing (re)arms the debounce timer; one
// that is not eligible drops the timer, the cache and the diagnostics.
func (s *State) UpdateFromContent(content string) Validation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return Validation{}
	}
	if s.hasContent && content == s.content {
		return s.validation
	}

	s.content = content
	s.hasContent = true
	s.revision++
	s.validation = Validate(content, s.root)
	s.artifact = nil

	if !s.validation.Eligible() {
		s.stopTimerLocked()
		s.diagnostics = nil
		s.lastErr = nil
		s.failed = false
		return s.validation
	}

	if s.needsProcessingLocked() {
		s.armLocked()
	}
	return s.validation
}

// NeedsProcessing reports whether the current snapshot is eligible, has no
// cached artifact and is not being processed.
func (s *State) NeedsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsProcessingLocked()
}

func (s *State) needsProcessingLocked() bool {
	return !s.disposed && s.validation.Eligible() && s.artifact == nil && !s.processing
}

// ScheduleNow requests processing immediately, bypassing the debounce.
func (s *State) ScheduleNow() bool {
	s.mu.Lock()
	if !s.needsProcessingLocked() {
		s.mu.Unlock()
		return false
	}
	s.stopTimerLocked()
	req := Request{URI: s.id.URI, Revision: s.revision}
	s.mu.Unlock()

	s.queue.Push(req)
	return true
}

// StartProcessing marks the state as in flight and returns the snapshot to
// convert. It fails when the state does not need processing, which makes
// it the per-document in-flight guard.
func (s *State) StartProcessing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.needsProcessingLocked() {
		return "", false
	}
	s.stopTimerLocked()
	s.processing = true
	s.processingRev = s.revision
	s.lastErr = nil
	return s.content, true
}

// FinishProcessing records the outcome of the conversion started by the
// last StartProcessing call. It reports whether the outcome belongs to the
// current snapshot. A stale artifact is never cached; if the newer snapshot
// needs processing the debounce timer is armed again.
func (s *State) FinishProcessing(err error, artifact []byte, diags []diagnostic.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || !s.processing {
		return false
	}
	s.processing = false
	s.lastErr = err
	s.failed = err != nil || artifact == nil

	current := s.processingRev == s.revision
	if !s.validation.Eligible() {
		s.lastErr = nil
		s.failed = false
		return false
	}

	s.diagnostics = diags
	if current && !s.failed {
		s.artifact = artifact
	}
	if !current {
		log.Debugf("%s changed during conversion (revision %d -> %d)", s.id.Label, s.processingRev, s.revision)
		if s.needsProcessingLocked() {
			s.armLocked()
		}
	}
	return current
}

// Dispose cancels the pending timer, disposes the attached panel and drops
// all cached data. A disposed state ignores every later call.
func (s *State) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.stopTimerLocked()
	panel := s.panel
	s.panel = nil
	s.artifact = nil
	s.diagnostics = nil
	s.lastErr = nil
	s.processing = false
	s.content = ""
	s.hasContent = false
	s.mu.Unlock()

	if panel != nil {
		panel.Dispose()
	}
}

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.disposed:
		return StatusDisposed
	case s.processing:
		return StatusProcessing
	case s.timer != nil:
		return StatusArmedPending
	case s.artifact != nil:
		return StatusCached
	case s.failed:
		return StatusFailed
	}
	return StatusIdle
}

func (s *State) Diagnostics() []diagnostic.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diagnostics == nil {
		return nil
	}
	out := make([]diagnostic.Record, len(s.diagnostics))
	copy(out, s.diagnostics)
	return out
}

func (s *State) Artifact() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

func (s *State) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *State) Validation() Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validation
}

func (s *State) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *State) SetPanel(p Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.panel = p
}

func (s *State) Panel() Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel
}

// DetachPanel forgets p if it is the attached panel.
func (s *State) DetachPanel(p Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panel == p {
		s.panel = nil
	}
}

func (s *State) armLocked() {
	s.stopTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.debounce, func() {
		s.fire(gen)
	})
}

func (s *State) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *State) fire(gen uint64) {
	s.mu.Lock()
	if s.disposed || s.timer == nil || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	req := Request{URI: s.id.URI, Revision: s.revision}
	s.mu.Unlock()

	s.queue.Push(req)
}
