package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhamidi/rfclive/config"
	"github.com/dhamidi/rfclive/convert"
	"github.com/dhamidi/rfclive/diagnostic"
	"github.com/dhamidi/rfclive/document"
	"github.com/dhamidi/rfclive/document/doctest"
	"github.com/dhamidi/rfclive/metrics"
)

const (
	testURI  = "file:///drafts/draft-test-00.xml"
	rfcDoc   = `<rfc><front><title>One</title></front></rfc>`
	rfcDoc2  = `<rfc><front><title>Two</title></front></rfc>`
	noteDoc  = `<note/>`
	debounce = 250 * time.Millisecond
)

type fakeConverter struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*convert.Result
	errs    map[string]error
	// gates hold a conversion of the keyed content until closed.
	gates map[string]chan struct{}
}

func newFakeConverter() *fakeConverter {
	return &fakeConverter{
		results: make(map[string]*convert.Result),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (c *fakeConverter) Process(ctx context.Context, content string) (*convert.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, content)
	gate := c.gates[content]
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs[content]; ok {
		return nil, err
	}
	if res, ok := c.results[content]; ok {
		return res, nil
	}
	return &convert.Result{Artifact: []byte("<html>" + content + "</html>")}, nil
}

func (c *fakeConverter) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type sinkUpdate struct {
	uri     string
	records []diagnostic.Record
}

type fakeSink struct {
	mu      sync.Mutex
	updates []sinkUpdate
}

func (s *fakeSink) Update(uri string, records []diagnostic.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, sinkUpdate{uri: uri, records: records})
}

func (s *fakeSink) Updates() []sinkUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkUpdate(nil), s.updates...)
}

type fakePanel struct {
	mu        sync.Mutex
	events    []string
	revealed  int
	disposed  bool
	onDispose func()
}

func (p *fakePanel) Dispose() {
	p.mu.Lock()
	p.disposed = true
	p.mu.Unlock()
	p.onDispose()
}

func (p *fakePanel) Reveal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revealed++
}

func (p *fakePanel) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePanel) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fakePresenter struct{}

func (fakePresenter) OpenPanel(id document.Identity, onDispose func()) Panel {
	return &fakePanel{onDispose: onDispose}
}

func (fakePresenter) ShowLoading(p Panel, label string) {
	p.(*fakePanel).record("loading:" + label)
}

func (fakePresenter) ShowContent(p Panel, artifact []byte) {
	p.(*fakePanel).record("content:" + string(artifact))
}

func (fakePresenter) ShowError(p Panel, message string, records []diagnostic.Record) {
	p.(*fakePanel).record("error:" + message)
}

type harness struct {
	clock     *doctest.ManualClock
	converter *fakeConverter
	sink      *fakeSink
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Debounce = debounce
	h := &harness{
		clock:     doctest.NewManualClock(),
		converter: newFakeConverter(),
		sink:      &fakeSink{},
	}
	h.orch = New(Options{
		Config:    cfg,
		Converter: h.converter,
		Sink:      h.sink,
		Presenter: fakePresenter{},
		Metrics:   metrics.New(),
		Clock:     h.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) state(t *testing.T) *document.State {
	t.Helper()
	s := h.orch.Registry().Get(testURI)
	if s == nil {
		t.Fatalf("no state for %s", testURI)
	}
	return s
}

func TestRFCDocumentIsCached(t *testing.T) {
	h := newHarness(t)

	v := h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
	if !v.Eligible() {
		t.Fatalf("Validation = %+v, want eligible", v)
	}
	if calls := h.converter.Calls(); len(calls) != 0 {
		t.Fatalf("converted before debounce: %v", calls)
	}

	h.clock.Advance(debounce)
	state := h.state(t)
	waitFor(t, "cached artifact", func() bool { return state.Status() == document.StatusCached })

	if got := string(state.Artifact()); got != "<html>"+rfcDoc+"</html>" {
		t.Errorf("Artifact() = %q", got)
	}
	if d := state.Diagnostics(); len(d) != 0 {
		t.Errorf("Diagnostics() = %+v, want none", d)
	}
	if u := h.sink.Updates(); len(u) != 0 {
		t.Errorf("sink updates = %+v, want none", u)
	}
	if calls := h.converter.Calls(); len(calls) != 1 {
		t.Errorf("converter calls = %d, want 1", len(calls))
	}
}

func TestNonRFCDocumentIsNeverScheduled(t *testing.T) {
	h := newHarness(t)

	v := h.orch.HandleUpdate(document.NewIdentity(testURI), noteDoc)
	if v.TargetSchema || v.Root != "note" {
		t.Fatalf("Validation = %+v", v)
	}
	h.clock.Advance(10 * debounce)
	time.Sleep(20 * time.Millisecond)

	if calls := h.converter.Calls(); len(calls) != 0 {
		t.Errorf("converter calls = %v, want none", calls)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.clock.Pending())
	}
}

func TestValidationFailurePublishesDiagnostics(t *testing.T) {
	h := newHarness(t)
	diags := diagnostic.Parse("draft.xml(4): Error: Element rfc missing attribute\ndraft.xml(9): Warning: odd")
	h.converter.results[rfcDoc] = &convert.Result{Diagnostics: diags, ErrorDetails: "errors"}

	h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
	h.clock.Advance(debounce)
	waitFor(t, "diagnostics", func() bool { return len(h.sink.Updates()) == 1 })

	updates := h.sink.Updates()
	if len(updates) != 1 {
		t.Fatalf("sink updates = %d, want 1", len(updates))
	}
	if updates[0].uri != testURI || !diagnostic.Equal(updates[0].records, diags) {
		t.Errorf("sink update = %+v, want %+v", updates[0], diags)
	}

	// Unchanged diagnostics are not republished; invalid content clears them.
	h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
	h.orch.HandleUpdate(document.NewIdentity(testURI), noteDoc)
	updates = h.sink.Updates()
	if len(updates) != 2 || len(updates[1].records) != 0 {
		t.Errorf("sink updates = %+v, want a clearing update", updates)
	}
}

func TestOpenPreview(t *testing.T) {
	t.Run("loading then content", func(t *testing.T) {
		h := newHarness(t)
		h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)

		p, err := h.orch.OpenPreview(testURI)
		if err != nil {
			t.Fatalf("OpenPreview() = %v", err)
		}
		panel := p.(*fakePanel)
		if h.clock.Pending() != 0 {
			t.Error("debounce timer still pending after OpenPreview")
		}
		waitFor(t, "preview content", func() bool { return len(panel.Events()) == 2 })

		want := []string{"loading:draft-test-00.xml", "content:<html>" + rfcDoc + "</html>"}
		for i, ev := range panel.Events() {
			if ev != want[i] {
				t.Errorf("event %d = %q, want %q", i, ev, want[i])
			}
		}

		again, err := h.orch.OpenPreview(testURI)
		if err != nil || again != p {
			t.Fatalf("second OpenPreview() = %v, %v, want the same panel", again, err)
		}
		if panel.revealed != 1 {
			t.Errorf("revealed = %d, want 1", panel.revealed)
		}
	})

	t.Run("cached artifact", func(t *testing.T) {
		h := newHarness(t)
		h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
		h.clock.Advance(debounce)
		state := h.state(t)
		waitFor(t, "cached artifact", func() bool { return state.Status() == document.StatusCached })

		p, err := h.orch.OpenPreview(testURI)
		if err != nil {
			t.Fatal(err)
		}
		events := p.(*fakePanel).Events()
		if len(events) != 1 || !strings.HasPrefix(events[0], "content:") {
			t.Errorf("events = %v, want cached content only", events)
		}
		if calls := h.converter.Calls(); len(calls) != 1 {
			t.Errorf("converter calls = %d, want 1", len(calls))
		}
	})

	t.Run("not rfc", func(t *testing.T) {
		h := newHarness(t)
		h.orch.HandleUpdate(document.NewIdentity(testURI), noteDoc)
		p, err := h.orch.OpenPreview(testURI)
		if err != nil {
			t.Fatal(err)
		}
		events := p.(*fakePanel).Events()
		if len(events) != 1 || !strings.Contains(events[0], "not an RFC XML document") {
			t.Errorf("events = %v", events)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.orch.OpenPreview(testURI); !errors.Is(err, ErrUnknownDocument) {
			t.Errorf("OpenPreview() = %v, want ErrUnknownDocument", err)
		}
	})

	t.Run("compile failure", func(t *testing.T) {
		h := newHarness(t)
		h.converter.results[rfcDoc] = &convert.Result{ErrorDetails: "bad"}
		h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
		p, _ := h.orch.OpenPreview(testURI)
		panel := p.(*fakePanel)
		waitFor(t, "error page", func() bool { return len(panel.Events()) == 2 })
		if got := panel.Events()[1]; got != "error:"+titleCompileFailed+": bad" {
			t.Errorf("event = %q", got)
		}
	})

	t.Run("processing error", func(t *testing.T) {
		h := newHarness(t)
		h.converter.errs[rfcDoc] = &convert.Error{
			Kind:        convert.KindTimeout,
			Diagnostics: diagnostic.Parse("x.xml: Line 2: partial"),
		}
		h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
		p, _ := h.orch.OpenPreview(testURI)
		panel := p.(*fakePanel)
		waitFor(t, "error page", func() bool { return len(panel.Events()) == 2 })
		if got := panel.Events()[1]; !strings.HasPrefix(got, "error:"+titleProcessingError) {
			t.Errorf("event = %q", got)
		}
		state := h.state(t)
		if convert.KindOf(state.LastError()) != convert.KindTimeout {
			t.Errorf("LastError() = %v", state.LastError())
		}
		if d := state.Diagnostics(); len(d) != 1 || d[0].Line != 1 {
			t.Errorf("Diagnostics() = %+v", d)
		}
	})
}

func TestPanelDisposeDetaches(t *testing.T) {
	h := newHarness(t)
	h.orch.HandleUpdate(document.NewIdentity(testURI), noteDoc)
	p, _ := h.orch.OpenPreview(testURI)

	p.Dispose()
	if h.state(t).Panel() != nil {
		t.Error("panel still attached after dispose")
	}
	p2, _ := h.orch.OpenPreview(testURI)
	if p2 == p {
		t.Error("OpenPreview reused a disposed panel")
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.converter.results[rfcDoc] = &convert.Result{
		Diagnostics:  diagnostic.Parse("a.xml: Line 1: broken"),
		ErrorDetails: "broken",
	}
	h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc)
	p, _ := h.orch.OpenPreview(testURI)
	waitFor(t, "diagnostics", func() bool { return len(h.sink.Updates()) == 1 })

	h.orch.HandleUpdate(document.NewIdentity(testURI), rfcDoc2)
	h.orch.Close(testURI)

	if !p.(*fakePanel).disposed {
		t.Error("panel not disposed on close")
	}
	if h.orch.Registry().Get(testURI) != nil {
		t.Error("state still registered after close")
	}
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.clock.Pending())
	}
	updates := h.sink.Updates()
	if last := updates[len(updates)-1]; last.uri != testURI || len(last.records) != 0 {
		t.Errorf("last sink update = %+v, want clear", last)
	}

	h.clock.Advance(10 * debounce)
	time.Sleep(20 * time.Millisecond)
	if calls := h.converter.Calls(); len(calls) != 1 {
		t.Errorf("converter calls = %d, want 1", len(calls))
	}
}

func TestIgnoredDocuments(t *testing.T) {
	h := newHarness(t)
	h.orch.HandleUpdate(document.NewIdentity(testURI+".git"), rfcDoc)
	if n := h.orch.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() = %d, want 0", n)
	}
}

func TestShutdownClearsDiagnostics(t *testing.T) {
	h := newHarness(t)
	other := "file:///drafts/other.xml"
	h.converter.results[rfcDoc] = &convert.Result{
		Diagnostics:  diagnostic.Parse("a.xml: Line 3: broken"),
		ErrorDetails: "broken",
	}
	for _, uri := range []string{testURI, other} {
		h.orch.HandleUpdate(document.NewIdentity(uri), rfcDoc)
	}
	h.clock.Advance(debounce)
	waitFor(t, "diagnostics", func() bool { return len(h.sink.Updates()) == 2 })

	h.orch.Shutdown()

	cleared := map[string]bool{}
	for _, u := range h.sink.Updates()[2:] {
		if len(u.records) == 0 {
			cleared[u.uri] = true
		}
	}
	if !cleared[testURI] || !cleared[other] {
		t.Errorf("cleared = %v, want both documents", cleared)
	}
	if n := h.orch.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() = %d, want 0", n)
	}
}

func TestDiagnosticsPublishedDuringConversionStayCurrent(t *testing.T) {
	h := newHarness(t)
	first := diagnostic.Parse("a.xml: Line 1: first")
	second := diagnostic.Parse("a.xml: Line 2: second")
	h.converter.results[rfcDoc] = &convert.Result{Diagnostics: first, ErrorDetails: "first"}
	h.converter.results[rfcDoc2] = &convert.Result{Diagnostics: second, ErrorDetails: "second"}
	gate := make(chan struct{})
	h.converter.gates[rfcDoc2] = gate

	id := document.NewIdentity(testURI)
	h.orch.HandleUpdate(id, rfcDoc)
	h.clock.Advance(debounce)
	waitFor(t, "first diagnostics", func() bool { return len(h.sink.Updates()) == 1 })

	h.orch.HandleUpdate(id, rfcDoc2)
	h.clock.Advance(debounce)
	waitFor(t, "second conversion", func() bool { return len(h.converter.Calls()) == 2 })

	// Edits while the conversion is in flight publish the last completed set.
	h.orch.HandleUpdate(id, rfcDoc)
	h.orch.HandleUpdate(id, rfcDoc2+" ")
	close(gate)

	state := h.state(t)
	waitFor(t, "second diagnostics", func() bool { return diagnostic.Equal(state.Diagnostics(), second) })
	waitFor(t, "published second diagnostics", func() bool {
		updates := h.sink.Updates()
		return diagnostic.Equal(updates[len(updates)-1].records, second)
	})

	updates := h.sink.Updates()
	if last := updates[len(updates)-1]; last.uri != testURI || !diagnostic.Equal(last.records, state.Diagnostics()) {
		t.Errorf("sink shows %+v, state has %+v", last.records, state.Diagnostics())
	}
	for i, u := range updates[1:] {
		if !diagnostic.Equal(u.records, second) {
			t.Errorf("update %d = %+v, want only the newer set after the first", i+1, u.records)
		}
	}
}

func TestCompileFailure(t *testing.T) {
	tests := []struct {
		name string
		res  *convert.Result
		want string
	}{
		{"parsed diagnostics", &convert.Result{Diagnostics: diagnostic.Parse("a.xml: Line 1: x"), ErrorDetails: "a.xml: Line 1: x"}, titleCompileFailed},
		{"unparsed output", &convert.Result{ErrorDetails: "Traceback: boom\n"}, titleCompileFailed + ": Traceback: boom"},
		{"no output", &convert.Result{}, titleCompileFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompileFailure(tt.res); got != tt.want {
				t.Errorf("CompileFailure() = %q, want %q", got, tt.want)
			}
		})
	}
}
