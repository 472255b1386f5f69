package document

import "sync"

// Request asks for the document at URI to be processed. Revision is the
// content revision that was current when the request was made.
type Request struct {
	URI      string
	Revision uint64
}

// Queue is an unbounded FIFO of scheduling requests holding at most one
// pending request per document. Push never blocks, so it is safe to call
// from timer callbacks and host event handlers alike.
type Queue struct {
	mu      sync.Mutex
	pending []Request
	index   map[string]int
	ready   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		index: make(map[string]int),
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues r. A request for a document that is already pending
// replaces the pending revision in place.
func (q *Queue) Push(r Request) {
	q.mu.Lock()
	if i, ok := q.index[r.URI]; ok {
		q.pending[i].Revision = r.Revision
	} else {
		q.index[r.URI] = len(q.pending)
		q.pending = append(q.pending, r)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever a request may be available.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Pop removes the oldest request.
func (q *Queue) Pop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Request{}, false
	}
	r := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.index, r.URI)
	for uri, i := range q.index {
		q.index[uri] = i - 1
	}
	return r, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
