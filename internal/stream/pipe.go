package stream

import (
	"errors"
	"io"
	"sync"
)

// Pipe runs produce in its own goroutine and exposes the frames it writes
// as a reader. A non-nil error from produce is emitted as a final error
// frame. Closing the reader makes the producer's next write fail and calls
// abort once, which should release the upstream connection.
func Pipe(produce func(w *Writer) error, abort func()) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		w := NewWriter(pw)
		if err := produce(w); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			_ = w.Error(err.Error())
		}
		pw.Close()
	}()
	return &pipeReader{PipeReader: pr, abort: abort}
}

type pipeReader struct {
	*io.PipeReader
	abort func()
	once  sync.Once
}

func (r *pipeReader) Close() error {
	err := r.PipeReader.Close()
	if r.abort != nil {
		r.once.Do(r.abort)
	}
	return err
}
