package watch

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/dhamidi/rfclive/diagnostic"
)

var (
	errorLabel   = color.New(color.FgRed, color.Bold)
	warningLabel = color.New(color.FgYellow, color.Bold)
	okLabel      = color.New(color.FgGreen)
	pathLabel    = color.New(color.Bold)
)

// Printer writes diagnostics for humans. It implements the workspace
// diagnostic sink for the watch command.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Update(uri string, records []diagnostic.Record) {
	p.Print(PathOf(uri), records)
}

// Print writes one line per record, or a single ok line when records is
// empty.
func (p *Printer) Print(path string, records []diagnostic.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(records) == 0 {
		fmt.Fprintf(p.w, "%s: %s\n", pathLabel.Sprint(path), okLabel.Sprint("ok"))
		return
	}
	for _, r := range records {
		label := errorLabel
		if r.Severity == diagnostic.SeverityWarning {
			label = warningLabel
		}
		fmt.Fprintf(p.w, "%s:%d: %s: %s\n", pathLabel.Sprint(path), r.Line+1, label.Sprint(r.Severity), r.Message)
	}
}
