// Package workspace coordinates the documents of an editing session: it
// routes content updates to their document state, drains the scheduling
// queue into conversions and forwards the outcome to the diagnostic sink and
// the preview presenter.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/dhamidi/rfclive/config"
	"github.com/dhamidi/rfclive/convert"
	"github.com/dhamidi/rfclive/diagnostic"
	"github.com/dhamidi/rfclive/document"
	"github.com/dhamidi/rfclive/metrics"
)

var log = commonlog.GetLogger("rfclive.workspace")

const (
	titleCompileFailed   = "Failed to compile RFC XML"
	titleProcessingError = "Processing Error"
)

// ErrUnknownDocument is returned by OpenPreview for a URI that is not tracked.
var ErrUnknownDocument = errors.New("no active document found, open an XML file first")

// Converter turns RFC XML content into a rendered artifact.
type Converter interface {
	Process(ctx context.Context, content string) (*convert.Result, error)
}

// DiagnosticSink shows the diagnostics of a document. An empty slice clears
// them.
type DiagnosticSink interface {
	Update(uri string, records []diagnostic.Record)
}

// Panel is a preview surface for one document.
type Panel interface {
	document.Panel
	Reveal()
}

// Presenter renders preview panels.
type Presenter interface {
	OpenPanel(id document.Identity, onDispose func()) Panel
	ShowLoading(p Panel, label string)
	ShowContent(p Panel, artifact []byte)
	ShowError(p Panel, message string, records []diagnostic.Record)
}

type Options struct {
	Config    config.Config
	Converter Converter
	Sink      DiagnosticSink
	// Presenter may be nil, in which case OpenPreview fails.
	Presenter Presenter
	Metrics   *metrics.Metrics
	Clock     document.Clock
}

type Orchestrator struct {
	registry  *Registry
	converter Converter
	sink      DiagnosticSink
	presenter Presenter
	metrics   *metrics.Metrics
	workers   int

	pubMu     sync.Mutex
	published map[string][]diagnostic.Record
}

func New(opts Options) *Orchestrator {
	workers := opts.Config.Workers
	if workers < 1 {
		workers = 1
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Orchestrator{
		registry: NewRegistry(document.Options{
			RootElement: opts.Config.RootElement,
			Debounce:    opts.Config.Debounce,
			Clock:       opts.Clock,
		}),
		converter: opts.Converter,
		sink:      sink,
		presenter: opts.Presenter,
		metrics:   opts.Metrics,
		workers:   workers,
		published: make(map[string][]diagnostic.Record),
	}
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// HandleUpdate forwards new content for id to its state. When the state
// does not need processing its last known diagnostics are published right
// away; otherwise the conversion publishes them when it completes.
func (o *Orchestrator) HandleUpdate(id document.Identity, content string) document.Validation {
	if ignored(id) {
		return document.Validation{}
	}

	state, created := o.registry.GetOrCreate(id)
	if created {
		log.Debugf("tracking %s", id.URI)
		o.updateOpenDocuments()
	}

	v := state.UpdateFromContent(content)
	if !state.NeedsProcessing() {
		o.publish(state)
	}
	return v
}

// Close disposes the state of uri and clears its diagnostics.
func (o *Orchestrator) Close(uri string) {
	state := o.registry.Remove(uri)
	if state == nil {
		return
	}
	state.Dispose()
	o.clear(uri)
	o.updateOpenDocuments()
	log.Debugf("closed %s", uri)
}

// OpenPreview attaches a preview panel to the document at uri. An existing
// panel is revealed instead. A cached artifact is shown immediately;
// otherwise the panel shows a loading page and processing is scheduled
// without waiting for the debounce.
func (o *Orchestrator) OpenPreview(uri string) (Panel, error) {
	if o.presenter == nil {
		return nil, errors.New("no preview presenter configured")
	}
	state := o.registry.Get(uri)
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	if existing, ok := state.Panel().(Panel); ok && existing != nil {
		existing.Reveal()
		return existing, nil
	}

	id := state.Identity()
	var panel Panel
	panel = o.presenter.OpenPanel(id, func() {
		state.DetachPanel(panel)
	})
	state.SetPanel(panel)

	if artifact := state.Artifact(); artifact != nil {
		o.presenter.ShowContent(panel, artifact)
		return panel, nil
	}

	v := state.Validation()
	if !v.Eligible() {
		message, records := ineligibleReport(id, v)
		o.presenter.ShowError(panel, message, records)
		return panel, nil
	}

	o.presenter.ShowLoading(panel, id.Label)
	if !state.ScheduleNow() {
		log.Debugf("%s is already being processed", id.Label)
	}
	return panel, nil
}

// Run drains the scheduling queue until ctx is done. Conversions run on at
// most Config.Workers goroutines; StartProcessing keeps a single conversion
// per document in flight.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	queue := o.registry.Queue()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case <-queue.Ready():
		}

		for {
			req, ok := queue.Pop()
			if !ok {
				break
			}
			state := o.registry.Get(req.URI)
			if state == nil {
				o.scheduled("gone")
				continue
			}
			content, ok := state.StartProcessing()
			if !ok {
				o.scheduled("skipped")
				continue
			}
			o.scheduled("started")
			g.Go(func() error {
				o.process(gctx, state, content)
				return nil
			})
		}
	}
}

// Shutdown disposes every state and clears all published diagnostics.
func (o *Orchestrator) Shutdown() {
	for _, state := range o.registry.RemoveAll() {
		state.Dispose()
	}

	o.pubMu.Lock()
	uris := make([]string, 0, len(o.published))
	for uri := range o.published {
		uris = append(uris, uri)
	}
	o.published = make(map[string][]diagnostic.Record)
	o.pubMu.Unlock()

	for _, uri := range uris {
		o.sink.Update(uri, nil)
	}
	o.updateOpenDocuments()
}

func (o *Orchestrator) process(ctx context.Context, state *document.State, content string) {
	id := state.Identity()
	log.Debugf("converting %s (revision %d)", id.Label, state.Revision())

	res, err := o.converter.Process(ctx, content)

	var (
		artifact []byte
		diags    []diagnostic.Record
	)
	if err != nil {
		diags = convert.DiagnosticsOf(err)
		log.Errorf("processing %s: %v", id.Label, err)
	} else {
		artifact = res.Artifact
		diags = res.Diagnostics
		if !res.OK() {
			log.Infof("xml2rfc rejected %s: %s", id.Label, strings.TrimSpace(res.ErrorDetails))
		}
	}

	state.FinishProcessing(err, artifact, diags)
	o.publish(state)

	panel, ok := state.Panel().(Panel)
	if !ok || panel == nil || o.presenter == nil {
		return
	}
	switch {
	case err != nil:
		o.presenter.ShowError(panel, titleProcessingError+": "+err.Error(), state.Diagnostics())
	case res.OK():
		o.presenter.ShowContent(panel, res.Artifact)
	default:
		o.presenter.ShowError(panel, CompileFailure(res), res.Diagnostics)
	}
}

// publish sends the diagnostics of state to the sink when they differ from
// what was last published. States that were closed meanwhile are skipped.
// Records are read under pubMu, so the sink never receives an older set
// after a newer one.
func (o *Orchestrator) publish(state *document.State) {
	uri := state.Identity().URI

	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	if o.registry.Get(uri) != state {
		return
	}
	records := state.Diagnostics()
	prev, seen := o.published[uri]
	if diagnostic.Equal(prev, records) && (seen || len(records) == 0) {
		return
	}
	o.published[uri] = records
	o.sink.Update(uri, records)
}

func (o *Orchestrator) clear(uri string) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	delete(o.published, uri)
	o.sink.Update(uri, nil)
}

type nopSink struct{}

func (nopSink) Update(string, []diagnostic.Record) {}

func (o *Orchestrator) scheduled(disposition string) {
	if o.metrics != nil {
		o.metrics.Scheduled(disposition)
	}
}

func (o *Orchestrator) updateOpenDocuments() {
	if o.metrics != nil {
		o.metrics.SetOpenDocuments(o.registry.Len())
	}
}

// CompileFailure is the page title for a conversion the tool rejected. When
// none of its output could be parsed into diagnostics the raw output is
// appended.
func CompileFailure(res *convert.Result) string {
	details := strings.TrimSpace(res.ErrorDetails)
	if len(res.Diagnostics) > 0 || details == "" {
		return titleCompileFailed
	}
	return titleCompileFailed + ": " + details
}

// ignored reports documents that editors create as shadows of real files.
func ignored(id document.Identity) bool {
	return strings.HasSuffix(id.URI, ".git")
}

func ineligibleReport(id document.Identity, v document.Validation) (string, []diagnostic.Record) {
	if !v.WellFormed {
		var records []diagnostic.Record
		if v.SyntaxErr != nil {
			records = append(records, diagnostic.Record{
				Line:     v.SyntaxErr.Line,
				Severity: diagnostic.SeverityError,
				Message:  v.SyntaxErr.Message,
			})
		}
		return fmt.Sprintf("%s is not well-formed XML", id.Label), records
	}
	return fmt.Sprintf("%s is not an RFC XML document (root element <%s>)", id.Label, v.Root), nil
}
