package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dhamidi/rfclive/convert"
	"github.com/dhamidi/rfclive/metrics"
	"github.com/dhamidi/rfclive/watch"
	"github.com/dhamidi/rfclive/workspace"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		previewAddr string
		noPreview   bool
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <file-or-dir>...",
		Short: "Watch RFC XML files and re-render them on every change",
		Long: `Watch RFC XML files and re-render them on every change.

Directories are searched for *.xml files. Diagnostics are printed as they
change and every RFC document gets a live browser preview.`,
		Args: cobra.MinimumNArgs(1),
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

			orch := workspace.New(workspace.Options{
				Config:    cfg,
				Converter: convert.New(cfg, m),
				Sink:      watch.NewPrinter(cmd.OutOrStdout()),
				Presenter: presenter,
				Metrics:   m,
			})

			w := watch.New(orch, args, interval)
			if previews != nil {
				w.Added = func(uri string) {
					if _, err := orch.OpenPreview(uri); err != nil {
						log.Warningf("preview %s: %v", uri, err)
					}
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
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
				return w.Run(ctx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&previewAddr, "preview-addr", "", "address of the preview server (default from config)")
	cmd.Flags().BoolVar(&noPreview, "no-preview", false, "do not start the preview server")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")

	return cmd
}
