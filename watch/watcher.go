// Package watch feeds documents from the file system into the workspace by
// polling their modification times.
package watch

import (
	"context"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/dhamidi/rfclive/document"
)

var log = commonlog.GetLogger("rfclive.watch")

// Updater receives file contents and removals.
type Updater interface {
	HandleUpdate(id document.Identity, content string) document.Validation
	Close(uri string)
}

type Watcher struct {
	// Added, if set, is called the first time a file holds an RFC
	// document, after it was handed to the updater.
	Added func(uri string)

	updater      Updater
	roots        []string
	pollInterval time.Duration
	modTimes     map[string]time.Time
	announced    map[string]bool
}

// New watches roots, which may be files or directories. Directories are
// searched for *.xml files, skipping hidden directories.
func New(u Updater, roots []string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Watcher{
		updater:      u,
		roots:        roots,
		pollInterval: pollInterval,
		modTimes:     make(map[string]time.Time),
		announced:    make(map[string]bool),
	}
}

// Run scans once immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.scan()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	current := make(map[string]bool)

	for _, root := range w.roots {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			w.visit(root, info, current)
			continue
		}
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), ".xml") {
				return nil
			}
			if info, err := d.Info(); err == nil {
				w.visit(path, info, current)
			}
			return nil
		})
	}

	for path := range w.modTimes {
		if !current[path] {
			delete(w.modTimes, path)
			delete(w.announced, path)
			log.Infof("%s removed", path)
			w.updater.Close(FileURI(path))
		}
	}
}

func (w *Watcher) visit(path string, info fs.FileInfo, current map[string]bool) {
	current[path] = true

	lastMod, known := w.modTimes[path]
	if known && !info.ModTime().After(lastMod) {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warningf("read %s: %v", path, err)
		return
	}
	w.modTimes[path] = info.ModTime()

	uri := FileURI(path)
	v := w.updater.HandleUpdate(document.NewIdentity(uri), string(content))
	switch {
	case v.SyntaxErr != nil:
		log.Warningf("%s:%d: %s", path, v.SyntaxErr.Line+1, v.SyntaxErr.Message)
	case v.WellFormed && !v.TargetSchema:
		log.Infof("%s: root element <%s> is not an RFC document, skipping", path, v.Root)
	}
	if v.Eligible() && !w.announced[path] {
		w.announced[path] = true
		if w.Added != nil {
			w.Added(uri)
		}
	}
}

// FileURI returns the file URI of path, made absolute if possible.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// PathOf returns the file system path of a file URI, or uri unchanged.
func PathOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}
