package server

import (
	"io"

	"github.com/pkg/errors"

	"filecatalog/metrics"
	"filecatalog/protocol"
)

var errShortArtifact = errors.New("artifact shorter than announced")

// streamArtifact sends size bytes of r as a FILE reply. If it fails after the
// header went out, the error is returned so the session ends and the
// connection closes; the client then sees fewer bytes than announced.
func (s *session) streamArtifact(r io.Reader, size int64) (int64, error) {
	if err := protocol.WriteHeader(s.w, protocol.StatusFile, size); err != nil {
		return 0, errors.Wrap(err, "write file header")
	}
	sent, err := copyChunks(s.w, r, size, s.srv.opts.ChunkSize)
	metrics.RecordArtifactBytes(sent)
	if err != nil {
		return sent, errors.Wrapf(err, "stream artifact after %d of %d bytes", sent, size)
	}
	if err := s.w.Flush(); err != nil {
		return sent, errors.Wrap(err, "flush artifact")
	}
	return sent, nil
}

type chunk struct {
	buf []byte
	n   int
	err error
}

// copyChunks copies exactly size bytes from r to w in chunkSize pieces. A
// reader goroutine fills buffers while the caller writes the previous one;
// two buffers circulate between them.
func copyChunks(w io.Writer, r io.Reader, size int64, chunkSize int) (int64, error) {
	free := make(chan []byte, 2)
	free <- make([]byte, chunkSize)
	free <- make([]byte, chunkSize)
	filled := make(chan chunk)
	done := make(chan struct{})
	defer func() {
		close(done)
		// Wait for the reader so r is idle once we return.
		for range filled {
		}
	}()

	go func() {
		defer close(filled)
		remaining := size
		for remaining > 0 {
			select {
			case <-done:
				return
			default:
			}
			var buf []byte
			select {
			case buf = <-free:
			case <-done:
				return
			}
			want := int64(len(buf))
			if remaining < want {
				want = remaining
			}
			n, err := io.ReadFull(r, buf[:want])
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				err = errShortArtifact
			}
			remaining -= int64(n)
			select {
			case filled <- chunk{buf: buf, n: n, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var sent int64
	for c := range filled {
		if c.n > 0 {
			n, err := w.Write(c.buf[:c.n])
			sent += int64(n)
			if err != nil {
				return sent, err
			}
		}
		if c.err != nil {
			return sent, c.err
		}
		free <- c.buf
	}
	if sent != size {
		return sent, errShortArtifact
	}
	return sent, nil
}
