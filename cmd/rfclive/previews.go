package main

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/dhamidi/rfclive/metrics"
	"github.com/dhamidi/rfclive/preview"
	"github.com/dhamidi/rfclive/workspace"
)

var log = commonlog.GetLogger("rfclive")

// newPreviews returns a nil presenter when previews are disabled, so that
// the workspace reports that no presenter is configured.
func newPreviews(templateDir string, m *metrics.Metrics, disabled bool) (*preview.Server, workspace.Presenter, error) {
	if disabled {
		return nil, nil, nil
	}
	s, err := preview.NewServer(templateDir, m)
	if err != nil {
		return nil, nil, fmt.Errorf("create preview server: %w", err)
	}
	return s, s, nil
}

// servePreviews logs listen and serve errors instead of returning them.
func servePreviews(ctx context.Context, s *preview.Server, addr string) {
	if err := s.ListenAndServe(ctx, addr); err != nil {
		log.Errorf("preview server: %v", err)
	}
}
