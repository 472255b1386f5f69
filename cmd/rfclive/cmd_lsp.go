package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dhamidi/rfclive/convert"
	"github.com/dhamidi/rfclive/lsp"
	"github.com/dhamidi/rfclive/metrics"
	"github.com/dhamidi/rfclive/workspace"
)

func newLSPCmd(opts *globalOptions) *cobra.Command {
	var (
		previewAddr string
		noPreview   bool
	)

	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server on stdio",
		Long: `Start the Language Server Protocol server on stdio.

The server publishes xml2rfc diagnostics for open RFC XML documents and
answers the xml2rfc.preview command by opening a live browser preview
served on --preview-addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if previewAddr != "" {
				cfg.PreviewAddr = previewAddr
			}

			m := metrics.New()
			previews, presenter, err := newPreviews(cfg.TemplateDir, m, noPreview)
			if err != nil {
				return err
			}

			diags := lsp.NewDiagnostics()
			orch := workspace.New(workspace.Options{
				Config:    cfg,
				Converter: convert.New(cfg, m),
				Sink:      diags,
				Presenter: presenter,
				Metrics:   m,
			})
			server := lsp.NewServer(orch, diags, version)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return orch.Run(ctx)
			})
			if previews != nil {
				g.Go(func() error {
					servePreviews(ctx, previews, cfg.PreviewAddr)
					return nil
				})
			}
			g.Go(func() error {
				defer cancel()
				if err := server.RunStdio(); err != nil {
					return fmt.Errorf("lsp: %w", err)
				}
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&previewAddr, "preview-addr", "", "address of the preview server (default from config)")
	cmd.Flags().BoolVar(&noPreview, "no-preview", false, "do not start the preview server")

	return cmd
}
