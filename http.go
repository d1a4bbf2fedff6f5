package rarar

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
)

// defaultReadAhead is the HTTP read-ahead window: every cache miss fetches
// at least this much so sequential header parsing costs one request per
// window instead of one per read.
const defaultReadAhead = 256 * 1024

// HTTPSource implements ByteSource over a remote object that supports HTTP
// range requests. It keeps a single contiguous cache window of recently
// fetched bytes, replaced wholesale on a miss.
type HTTPSource struct {
	url    string
	client *http.Client
	log    *slog.Logger

	pos  int64
	size int64 // total object length, -1 when the probe failed

	cacheStart int64
	cache      []byte
	readAhead  int64

	transferred int64
}

func newHTTPSource(url string, o *options) (*HTTPSource, error) {
	s := &HTTPSource{
		url:       url,
		client:    o.httpClient,
		log:       o.log.With("component", "http-source"),
		size:      -1,
		readAhead: o.readAhead,
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if s.readAhead <= 0 {
		s.readAhead = defaultReadAhead
	}
	s.probeSize()
	return s, nil
}

// probeSize asks the server for the total length. Best effort: without it,
// reads simply cannot self-clamp and rely on 416 for EOF.
func (s *HTTPSource) probeSize() {
	resp, err := s.client.Head(s.url)
	if err != nil {
		s.log.Debug("length probe failed", "url", s.url, "err", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
		s.size = resp.ContentLength
		s.log.Debug("length probe", "url", s.url, "size", s.size)
	}
}

// Size returns the probed total length, or -1 when unknown.
func (s *HTTPSource) Size() int64 { return s.size }

func (s *HTTPSource) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		if s.size < 0 {
			return 0, errors.New("seek from end: total length unknown")
		}
		pos = s.size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("seek position cannot be negative")
	}
	s.pos = pos
	return s.pos, nil
}

func (s *HTTPSource) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	want := int64(len(p))
	if s.size >= 0 {
		remaining := s.size - s.pos
		if remaining <= 0 {
			return 0, io.EOF
		}
		if want > remaining {
			want = remaining
		}
	}

	// Serve from the cache window when it fully covers the request.
	cacheEnd := s.cacheStart + int64(len(s.cache))
	if len(s.cache) > 0 && s.pos >= s.cacheStart && s.pos+want <= cacheEnd {
		n := copy(p, s.cache[s.pos-s.cacheStart:s.pos-s.cacheStart+want])
		s.pos += int64(n)
		return n, nil
	}

	requestSize := want
	if requestSize < s.readAhead {
		requestSize = s.readAhead
	}
	if s.size >= 0 && requestSize > s.size-s.pos {
		requestSize = s.size - s.pos
	}

	body, err := s.fetchRange(s.pos, requestSize)
	if err != nil {
		return 0, err
	}
	if len(body) == 0 {
		return 0, io.EOF
	}
	s.cacheStart = s.pos
	s.cache = body
	if int64(len(body)) < want {
		want = int64(len(body))
	}
	n := copy(p, body[:want])
	s.pos += int64(n)
	return n, nil
}

// fetchRange issues one range GET for [start, start+size). A short body is
// tolerated and logged; callers must handle short reads.
func (s *HTTPSource) fetchRange(start, size int64) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+size-1))
	s.log.Debug("range request", "start", start, "size", size)

	resp, err := s.client.Do(req)
	if err != nil {
		if isPeerClose(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Expected success path.
	case http.StatusOK:
		// A few servers answer ranges with 200 plus Content-Range; treat
		// those as partial. A plain 200 means the server ignored the range
		// header, and large remote archives cannot be parsed that way.
		if resp.Header.Get("Content-Range") == "" {
			return nil, fmt.Errorf("%w: %s", ErrRangeRequestsNotSupported, s.url)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil // clean EOF
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil && !isPeerClose(err) {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrNetwork, err)
	}
	s.transferred += int64(len(body))
	if int64(len(body)) != size {
		s.log.Debug("short range response", "requested", size, "got", len(body))
	}
	return body, nil
}

// isPeerClose recognizes a peer-initiated early close, which is treated as
// end of stream rather than a network failure.
func isPeerClose(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "peer closed connection")
}

// Close releases idle connections and resets position and cache.
func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	s.pos = 0
	s.cacheStart = 0
	s.cache = nil
	return nil
}

func (s *HTTPSource) BytesTransferred() int64 { return s.transferred }
