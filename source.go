package rarar

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/afero"
)

// ByteSource is the random-access byte contract all archive backends
// satisfy: a seekable, closeable reader with a transfer counter for
// diagnostics. Read may return fewer bytes than requested at end of stream
// or on a short network response; callers must tolerate short reads.
// A ByteSource is owned by exactly one Reader session and is not safe for
// concurrent use.
type ByteSource interface {
	io.Reader
	io.Seeker
	io.Closer

	// BytesTransferred returns the total number of payload bytes fetched
	// from the underlying medium so far.
	BytesTransferred() int64
}

// newByteSource classifies source and opens the matching backend: a URL
// becomes an HTTP range client, an existing local path becomes a plain file
// or, when sibling volumes exist, a multi-volume source. Anything else is
// ErrUnknownSource.
func newByteSource(source string, o *options) (ByteSource, error) {
	if isURL(source) {
		return newHTTPSource(source, o)
	}
	ok, err := afero.Exists(o.fs, source)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", source, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	vols := DiscoverVolumes(o.fs, source)
	if len(vols) > 1 {
		return NewMultiVolumeSource(o.fs, vols)
	}
	return openFileSource(o.fs, source)
}

// isURL reports whether source parses as a URL with both a scheme and a
// host.
func isURL(source string) bool {
	u, err := url.Parse(source)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// fileSource is the single local file backend.
type fileSource struct {
	f           afero.File
	transferred int64
}

func openFileSource(fs afero.Fs, path string) (*fileSource, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, path)
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	s.transferred += int64(n)
	return n, err
}

func (s *fileSource) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

func (s *fileSource) Close() error { return s.f.Close() }

func (s *fileSource) BytesTransferred() int64 { return s.transferred }

// readAt seeks src to start and reads up to length bytes, tolerating a
// short tail: at end of stream it returns whatever was available. length <= 0
// yields an empty slice.
func readAt(src ByteSource, start, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(src, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
