package probe

import (
	"errors"
	"io"
	"sync"
)

// ErrBranchClosed is returned when reading a branch after Close.
var ErrBranchClosed = errors.New("probe: branch closed")

const readChunk = 32 * 1024

// tee fans one source out to several branches. Each branch owns a queue;
// the pump appends every chunk to every open branch's queue. When any open
// branch holds maxBuffer bytes or more the pump waits, so a stalled reader
// bounds memory instead of growing it without limit.
type tee struct {
	src       io.ReadCloser
	maxBuffer int

	mu      sync.Mutex
	cond    *sync.Cond
	queues  [][]byte
	closed  []bool
	open    int
	done    bool
	err     error
	srcOnce sync.Once
}

// Branch is one independently readable copy of the source.
type Branch struct {
	t   *tee
	idx int
}

// Tee splits src into n branches. Every branch yields the full byte
// sequence of src from the start. Closing a branch discards its queue and
// never affects the others; closing the last open branch closes src.
func Tee(src io.ReadCloser, n, maxBuffer int) []*Branch {
	if maxBuffer <= 0 {
		maxBuffer = 4 << 20
	}
	t := &tee{
		src:       src,
		maxBuffer: maxBuffer,
		queues:    make([][]byte, n),
		closed:    make([]bool, n),
		open:      n,
	}
	t.cond = sync.NewCond(&t.mu)

	branches := make([]*Branch, n)
	for i := range branches {
		branches[i] = &Branch{t: t, idx: i}
	}
	go t.pump()
	return branches
}

func (t *tee) full() bool {
	for i, q := range t.queues {
		if !t.closed[i] && len(q) >= t.maxBuffer {
			return true
		}
	}
	return false
}

func (t *tee) pump() {
	buf := make([]byte, readChunk)
	for {
		t.mu.Lock()
		for t.open > 0 && t.full() {
			t.cond.Wait()
		}
		if t.open == 0 {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		n, err := t.src.Read(buf)

		t.mu.Lock()
		if n > 0 {
			for i := range t.queues {
				if !t.closed[i] {
					t.queues[i] = append(t.queues[i], buf[:n]...)
				}
			}
		}
		if err != nil {
			t.done = true
			t.err = err
		}
		t.cond.Broadcast()
		t.mu.Unlock()

		if err != nil {
			return
		}
	}
}

// Read implements io.Reader.
func (b *Branch) Read(p []byte) (int, error) {
	t := b.t
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.queues[b.idx]) == 0 && !t.done && !t.closed[b.idx] {
		t.cond.Wait()
	}
	if t.closed[b.idx] {
		return 0, ErrBranchClosed
	}
	if q := t.queues[b.idx]; len(q) > 0 {
		n := copy(p, q)
		if n == len(q) {
			t.queues[b.idx] = nil
		} else {
			t.queues[b.idx] = q[n:]
		}
		t.cond.Broadcast()
		return n, nil
	}
	return 0, t.err
}

// Close releases the branch. It never blocks on the source.
func (b *Branch) Close() error {
	t := b.t
	t.mu.Lock()
	if t.closed[b.idx] {
		t.mu.Unlock()
		return nil
	}
	t.closed[b.idx] = true
	t.queues[b.idx] = nil
	t.open--
	last := t.open == 0
	t.cond.Broadcast()
	t.mu.Unlock()

	if last {
		t.closeSource()
	}
	return nil
}

func (t *tee) closeSource() {
	t.srcOnce.Do(func() {
		_ = t.src.Close()
	})
}
