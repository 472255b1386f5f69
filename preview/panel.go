package preview

import "sync"

// Panel is one browser preview. Every page pushed to it bumps the revision
// the live-reload script waits on.
type Panel struct {
	id        string
	label     string
	server    *Server
	onDispose func()

	mu       sync.Mutex
	page     []byte
	revision uint64
	changed  chan struct{}
	disposed bool
}

func (p *Panel) ID() string {
	return p.id
}

func (p *Panel) URL() string {
	return p.server.Base() + "/preview/" + p.id
}

// Reveal logs the address of the preview so it can be reopened.
func (p *Panel) Reveal() {
	log.Infof("preview of %s at %s", p.label, p.URL())
}

func (p *Panel) set(page []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.page = page
	p.revision++
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Panel) snapshot() (page []byte, revision uint64, changed <-chan struct{}, disposed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page, p.revision, p.changed, p.disposed
}

// Dispose closes the panel and runs the dispose callback once.
func (p *Panel) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	close(p.changed)
	onDispose := p.onDispose
	p.mu.Unlock()

	p.server.remove(p.id)
	if onDispose != nil {
		onDispose()
	}
}
