package closure

import (
	"slices"
	"strings"
	"sync"

	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/storepath"
)

// worklist is the shared state of one resolution. A single mutex guards the
// queue, the pending and done sets and the collected results. pending holds identifiers that are
// queued or being fetched; resolution is complete when it is empty.
type worklist struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []storepath.Identifier
	pending map[string]struct{}
	done    map[string]struct{}
	entries  []Entry
	failures []Failure
	closed   bool
}

func newWorklist() *worklist {
	w := &worklist{
		pending: make(map[string]struct{}),
		done:    make(map[string]struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worklist) seed(roots []storepath.Identifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range roots {
		w.add(id)
	}
}

// add enqueues id unless it was seen before. The caller holds mu.
func (w *worklist) add(id storepath.Identifier) {
	if id.IsZero() {
		return
	}
	if _, ok := w.pending[id.Hash]; ok {
		return
	}
	if _, ok := w.done[id.Hash]; ok {
		return
	}
	w.pending[id.Hash] = struct{}{}
	w.queue = append(w.queue, id)
	w.cond.Signal()
}

// next blocks until an identifier is available. It returns false once all
// work is done or the worklist was closed.
func (w *worklist) next() (storepath.Identifier, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && len(w.pending) > 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed || len(w.queue) == 0 {
		return storepath.Identifier{}, false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	return id, true
}

// turnIn records a processed entry and enqueues its unseen references.
func (w *worklist) turnIn(entry Entry, refs []storepath.Identifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	delete(w.pending, entry.ID.Hash)
	w.done[entry.ID.Hash] = struct{}{}
	for _, ref := range refs {
		w.add(ref)
	}
	if len(w.pending) == 0 {
		w.cond.Broadcast()
	}
}

// fail records a failed identifier and turns it in as a leaf with an empty
// record.
func (w *worklist) fail(f Failure) {
	w.mu.Lock()
	w.failures = append(w.failures, f)
	w.mu.Unlock()
	w.turnIn(Entry{ID: f.ID, Record: narinfo.Parse("")}, nil)
}

func (w *worklist) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.cond.Broadcast()
}

func (w *worklist) result() (Set, []Failure) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := Set(slices.Clone(w.entries))
	slices.SortFunc(set, func(a, b Entry) int {
		return strings.Compare(a.ID.Hash, b.ID.Hash)
	})
	failures := slices.Clone(w.failures)
	slices.SortFunc(failures, func(a, b Failure) int {
		return strings.Compare(a.ID.Hash, b.ID.Hash)
	})
	return set, failures
}
