// Package preview serves document previews over HTTP. Each panel is a page
// that reloads itself whenever the workspace pushes new content to it.
package preview

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/dhamidi/rfclive/diagnostic"
	"github.com/dhamidi/rfclive/document"
	"github.com/dhamidi/rfclive/metrics"
	"github.com/dhamidi/rfclive/workspace"
)

//go:embed static templates
var embeddedFS embed.FS

var log = commonlog.GetLogger("rfclive.preview")

// PollTimeout bounds how long a revision request waits for a change.
var PollTimeout = 25 * time.Second

type Server struct {
	staticFS  fs.FS
	templates *template.Template
	mux       *http.ServeMux

	mu     sync.RWMutex
	base   string
	panels map[string]*Panel
}

// NewServer parses the page templates. Files in templateDir, if set,
// replace the built-in templates of the same name. m may be nil.
func NewServer(templateDir string, m *metrics.Metrics) (*Server, error) {
	templateFS := mustSub(embeddedFS, "templates")
	if templateDir != "" {
		templateFS = overlayFS(templateDir, templateFS)
	}

	tmpl, err := template.ParseFS(templateFS, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		staticFS:  mustSub(embeddedFS, "static"),
		templates: tmpl,
		mux:       http.NewServeMux(),
		panels:    make(map[string]*Panel),
	}

	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.staticFS))))
	s.mux.HandleFunc("GET /preview/{id}", s.handlePreview)
	s.mux.HandleFunc("GET /preview/{id}/revision", s.handleRevision)
	s.mux.HandleFunc("POST /preview/{id}/close", s.handleClose)
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.setBase("http://" + ln.Addr().String())
	log.Infof("serving previews at %s", s.Base())

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setBase(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = base
}

// Base is the URL prefix of all pages, known once the server listens.
func (s *Server) Base() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

func (s *Server) OpenPanel(id document.Identity, onDispose func()) workspace.Panel {
	p := &Panel{
		id:        uuid.NewString(),
		label:     id.Label,
		server:    s,
		onDispose: onDispose,
		changed:   make(chan struct{}),
	}
	s.mu.Lock()
	s.panels[p.id] = p
	s.mu.Unlock()

	log.Infof("preview of %s at %s", id.Label, p.URL())
	return p
}

func (s *Server) ShowLoading(wp workspace.Panel, label string) {
	s.show(wp, "loading.html", struct{ Label string }{label})
}

func (s *Server) ShowContent(wp workspace.Panel, artifact []byte) {
	if p, ok := wp.(*Panel); ok {
		p.set(artifact)
	}
}

type recordView struct {
	Line    int
	Message string
}

func (s *Server) ShowError(wp workspace.Panel, message string, records []diagnostic.Record) {
	views := make([]recordView, 0, len(records))
	for _, r := range records {
		views = append(views, recordView{Line: r.Line + 1, Message: r.Message})
	}
	s.show(wp, "error.html", struct {
		Message string
		Records []recordView
	}{message, views})
}

func (s *Server) show(wp workspace.Panel, name string, data any) {
	p, ok := wp.(*Panel)
	if !ok {
		return
	}
	page, err := s.render(name, data)
	if err != nil {
		log.Errorf("render %s: %v", name, err)
		return
	}
	p.set(page)
}

func (s *Server) render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) panel(id string) *Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panels[id]
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, id)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p := s.panel(r.PathValue("id"))
	if p == nil {
		http.Error(w, "preview not found", http.StatusNotFound)
		return
	}
	page, revision, _, _ := p.snapshot()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(injectLiveReload(page, p.id, revision))
}

func (s *Server) handleRevision(w http.ResponseWriter, r *http.Request) {
	p := s.panel(r.PathValue("id"))
	if p == nil {
		http.Error(w, "preview closed", http.StatusGone)
		return
	}
	after, err := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		http.Error(w, "invalid revision: "+err.Error(), http.StatusBadRequest)
		return
	}

	timeout := time.NewTimer(PollTimeout)
	defer timeout.Stop()
	for {
		_, revision, changed, disposed := p.snapshot()
		if disposed {
			http.Error(w, "preview closed", http.StatusGone)
			return
		}
		if revision != after {
			writeRevision(w, revision)
			return
		}
		select {
		case <-changed:
		case <-timeout.C:
			writeRevision(w, revision)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeRevision(w http.ResponseWriter, revision uint64) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Revision uint64 `json:"revision"`
	}{revision})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if p := s.panel(r.PathValue("id")); p != nil {
		p.Dispose()
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type panelView struct {
	ID    string
	Label string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	views := make([]panelView, 0, len(s.panels))
	for _, p := range s.panels {
		views = append(views, panelView{ID: p.id, Label: p.label})
	}
	s.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool {
		if views[i].Label != views[j].Label {
			return views[i].Label < views[j].Label
		}
		return views[i].ID < views[j].ID
	})

	page, err := s.render("index.html", struct{ Panels []panelView }{views})
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// injectLiveReload adds the reload script before the closing body tag, or
// at the end when there is none.
func injectLiveReload(page []byte, id string, revision uint64) []byte {
	script := fmt.Sprintf(`<script src="/static/live.js" data-panel="%s" data-revision="%d"></script>`, id, revision)
	i := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if i < 0 {
		return append(append([]byte(nil), page...), script...)
	}
	out := make([]byte, 0, len(page)+len(script))
	out = append(out, page[:i]...)
	out = append(out, script...)
	out = append(out, page[i:]...)
	return out
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

type overlayFSType struct {
	primary   fs.FS
	secondary fs.FS
}

func overlayFS(primaryPath string, secondary fs.FS) fs.FS {
	return &overlayFSType{
		primary:   os.DirFS(primaryPath),
		secondary: secondary,
	}
}

func (o *overlayFSType) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if err == nil {
		return f, nil
	}
	return o.secondary.Open(name)
}

func (o *overlayFSType) ReadDir(name string) ([]fs.DirEntry, error) {
	entries := make(map[string]fs.DirEntry)
	for _, fsys := range []fs.FS{o.secondary, o.primary} {
		if list, err := fs.ReadDir(fsys, name); err == nil {
			for _, e := range list {
				entries[e.Name()] = e
			}
		}
	}

	result := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result, nil
}
