package lsp

import (
	"math"
	"sync"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/dhamidi/rfclive/diagnostic"
)

const diagnosticSource = "xml2rfc"

// Diagnostics publishes diagnostic records to the connected client. Updates
// before the client is initialized are dropped.
type Diagnostics struct {
	mu     sync.Mutex
	notify glsp.NotifyFunc
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func (d *Diagnostics) bind(notify glsp.NotifyFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notify = notify
}

func (d *Diagnostics) Update(uri string, records []diagnostic.Record) {
	d.mu.Lock()
	notify := d.notify
	d.mu.Unlock()
	if notify == nil {
		return
	}
	notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toProtocolDiagnostics(records),
	})
}

// toProtocolDiagnostics spans every record over its whole line. The result
// is never nil so that an empty update clears the client's list.
func toProtocolDiagnostics(records []diagnostic.Record) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(records))
	source := diagnosticSource
	for _, r := range records {
		severity := toProtocolSeverity(r.Severity)
		line := protocol.UInteger(r.Line)
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: line, Character: 0},
				End:   protocol.Position{Line: line, Character: math.MaxInt32},
			},
			Severity: &severity,
			Source:   &source,
			Message:  r.Message,
		})
	}
	return out
}

func toProtocolSeverity(s diagnostic.Severity) protocol.DiagnosticSeverity {
	if s == diagnostic.SeverityWarning {
		return protocol.DiagnosticSeverityWarning
	}
	return protocol.DiagnosticSeverityError
}
