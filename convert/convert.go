// Package convert runs xml2rfc against a document snapshot.
//
// Every invocation stages the content in a uniquely named temporary file,
// runs the tool under a wall-clock timeout with capped output capture and
// removes both temporary files before returning, whatever the outcome.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/tliron/commonlog"

	"github.com/dhamidi/rfclive/config"
	"github.com/dhamidi/rfclive/diagnostic"
	"github.com/dhamidi/rfclive/metrics"
)

var log = commonlog.GetLogger("rfclive.convert")

// Result is the outcome of a conversion that ran to completion. Exactly one
// of Artifact and ErrorDetails is set.
type Result struct {
	Artifact     []byte
	Diagnostics  []diagnostic.Record
	ErrorDetails string
}

// OK reports whether the conversion produced an artifact.
func (r *Result) OK() bool {
	return r != nil && r.Artifact != nil
}

type Converter struct {
	cfg     config.Config
	metrics *metrics.Metrics
	breaker *gobreaker.CircuitBreaker[*Result]
}

// New creates a converter. m may be nil.
func New(cfg config.Config, m *metrics.Metrics) *Converter {
	c := &Converter{
		cfg:     cfg,
		metrics: m,
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker)
	}
	return c
}

func newBreaker(cfg config.Breaker) *gobreaker.CircuitBreaker[*Result] {
	settings := gobreaker.Settings{
		Name:        "xml2rfc",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFails
		},
		// Only a missing binary counts against the breaker.
		IsSuccessful: func(err error) bool {
			return KindOf(err) != KindToolNotFound
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warningf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return gobreaker.NewCircuitBreaker[*Result](settings)
}

// Args returns the command line arguments for converting input into output.
func Args(input, output string) []string {
	return []string{"--no-dtd", "--no-network", "--html", "--out", output, input}
}

// Process converts content. Validation failures reported by the tool are
// returned as a Result with ErrorDetails; everything else that prevents a
// Result is returned as an *Error.
func (c *Converter) Process(ctx context.Context, content string) (*Result, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.StartConversion()
	}

	var (
		res *Result
		err error
	)
	if c.breaker != nil {
		res, err = c.guarded(ctx, content)
	} else {
		res, err = c.process(ctx, content)
	}

	c.observe(time.Since(start), res, err)
	return res, err
}

// BreakerRetry is how often a conversion turned away by a half-open breaker
// asks again while the trial conversion is still running.
var BreakerRetry = 50 * time.Millisecond

func (c *Converter) guarded(ctx context.Context, content string) (*Result, error) {
	for {
		res, err := c.breaker.Execute(func() (*Result, error) {
			return c.process(ctx, content)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			return nil, &Error{Kind: KindToolNotFound, Err: err}
		case !errors.Is(err, gobreaker.ErrTooManyRequests):
			return res, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("xml2rfc: %w", ctx.Err())
		case <-time.After(BreakerRetry):
		}
	}
}

func (c *Converter) observe(elapsed time.Duration, res *Result, err error) {
	outcome := metrics.OutcomeSuccess
	diags := 0
	switch {
	case err != nil:
		outcome = KindOf(err).String()
		diags = len(DiagnosticsOf(err))
		log.Warningf("conversion failed after %s: %v", elapsed, err)
	case !res.OK():
		outcome = metrics.OutcomeValidationFailure
		diags = len(res.Diagnostics)
		log.Infof("conversion rejected by xml2rfc after %s with %d diagnostics", elapsed, diags)
	default:
		diags = len(res.Diagnostics)
		log.Debugf("conversion succeeded after %s: %d bytes, %d diagnostics", elapsed, len(res.Artifact), diags)
	}
	if c.metrics != nil {
		c.metrics.FinishConversion(outcome, elapsed, diags)
	}
}

func (c *Converter) process(ctx context.Context, content string) (*Result, error) {
	input, output := c.tempPaths()
	defer cleanup(input, output)

	if err := writeExclusive(input, content); err != nil {
		return nil, &Error{Kind: KindInputWriteFailure, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	stdout := newCappedBuffer(c.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(c.cfg.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, c.cfg.Tool, Args(input, output)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	log.Debugf("running %s %v", c.cfg.Tool, cmd.Args[1:])
	runErr := cmd.Run()

	if stderr.truncated || stdout.truncated {
		log.Warningf("xml2rfc output exceeded %d bytes and was truncated", c.cfg.MaxOutputBytes)
	}

	diags := diagnostic.Parse(stderr.String())

	if runErr != nil {
		return c.classify(ctx, runCtx, runErr, stderr.String(), diags)
	}

	artifact, err := os.ReadFile(output)
	if err != nil {
		return nil, &Error{Kind: KindOutputReadFailure, Err: err, Diagnostics: diags}
	}
	if len(artifact) == 0 {
		return nil, &Error{Kind: KindOutputReadFailure, Err: errors.New("xml2rfc did not generate valid HTML output"), Diagnostics: diags}
	}

	return &Result{
		Artifact:    artifact,
		Diagnostics: diags,
	}, nil
}

func (c *Converter) classify(parent, runCtx context.Context, runErr error, stderr string, diags []diagnostic.Record) (*Result, error) {
	switch {
	case errors.Is(runErr, exec.ErrNotFound), errors.Is(runErr, fs.ErrNotExist):
		return nil, &Error{Kind: KindToolNotFound, Err: runErr, Diagnostics: diags}
	case parent.Err() != nil:
		return nil, fmt.Errorf("xml2rfc: %w", parent.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return nil, &Error{Kind: KindTimeout, Err: fmt.Errorf("killed after %s", c.cfg.Timeout), Diagnostics: diags}
	}

	details := stderr
	if details == "" {
		details = runErr.Error()
	}
	return &Result{
		Diagnostics:  diags,
		ErrorDetails: details,
	}, nil
}

func (c *Converter) tempPaths() (input, output string) {
	base := filepath.Join(c.cfg.TempDir, c.cfg.TempPrefix+"-"+uuid.NewString())
	return base + ".xml", base + ".html"
}

func writeExclusive(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warningf("remove %s: %v", p, err)
		}
	}
}

// cappedBuffer keeps the first limit bytes written to it and silently drops
// the rest so the child never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room >= len(p) {
		return b.buf.Write(p)
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.truncated = true
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
