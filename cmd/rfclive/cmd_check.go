package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dhamidi/rfclive/config"
	"github.com/dhamidi/rfclive/convert"
	"github.com/dhamidi/rfclive/diagnostic"
	"github.com/dhamidi/rfclive/document"
	"github.com/dhamidi/rfclive/watch"
	"github.com/dhamidi/rfclive/workspace"
)

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Run xml2rfc once on each file and print its diagnostics",
		Long: `Run xml2rfc once on each file and print its diagnostics.

Files that are not well-formed XML or whose root element is not <rfc> are
reported without invoking xml2rfc. With --out, the rendered HTML of every
successful conversion is written to that directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("create %s: %w", outDir, err)
				}
			}
			return runCheck(cmd.Context(), cfg, convert.New(cfg, nil), args, outDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for rendered HTML files")

	return cmd
}

type checkResult struct {
	path    string
	records []diagnostic.Record
	failure string
}

func (r checkResult) failed() bool {
	return r.failure != "" || diagnostic.CountErrors(r.records) > 0
}

func runCheck(ctx context.Context, cfg config.Config, conv workspace.Converter, files []string, outDir string, out io.Writer) error {
	results := make([]checkResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, path := range files {
		g.Go(func() error {
			results[i] = checkFile(ctx, cfg, conv, path, outDir)
			return nil
		})
	}
	g.Wait()

	printer := watch.NewPrinter(out)
	failed := 0
	for _, r := range results {
		if r.failure != "" {
			fmt.Fprintf(out, "%s: %s\n", r.path, color.RedString(r.failure))
		}
		if r.failure == "" || len(r.records) > 0 {
			printer.Print(r.path, r.records)
		}
		if r.failed() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

func checkFile(ctx context.Context, cfg config.Config, conv workspace.Converter, path, outDir string) checkResult {
	r := checkResult{path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		r.failure = err.Error()
		return r
	}

	v := document.Validate(string(content), cfg.RootElement)
	switch {
	case v.SyntaxErr != nil:
		r.records = []diagnostic.Record{{
			Line:     v.SyntaxErr.Line,
			Severity: diagnostic.SeverityError,
			Message:  v.SyntaxErr.Message,
		}}
		r.failure = "not well-formed XML"
		return r
	case !v.TargetSchema:
		r.failure = fmt.Sprintf("root element <%s> is not <%s>", v.Root, cfg.RootElement)
		return r
	}

	res, err := conv.Process(ctx, string(content))
	if err != nil {
		r.records = convert.DiagnosticsOf(err)
		r.failure = err.Error()
		return r
	}
	r.records = res.Diagnostics
	if !res.OK() {
		r.failure = workspace.CompileFailure(res)
		return r
	}

	if outDir != "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".html"
		if err := os.WriteFile(filepath.Join(outDir, name), res.Artifact, 0644); err != nil {
			r.failure = fmt.Sprintf("write %s: %v", name, err)
		}
	}
	return r
}
