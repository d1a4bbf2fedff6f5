package rarar

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "http://archive.test/data.rar"

// registerRangeServer mocks a server with full byte-range support for data.
func registerRangeServer(data []byte) {
	httpmock.RegisterResponder(http.MethodHead, testURL,
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, "")
			resp.ContentLength = int64(len(data))
			resp.Header.Set("Content-Length", strconv.Itoa(len(data)))
			return resp, nil
		})
	httpmock.RegisterResponder(http.MethodGet, testURL,
		func(req *http.Request) (*http.Response, error) {
			var start, end int64
			if _, err := fmt.Sscanf(req.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
				return httpmock.NewBytesResponse(http.StatusOK, data), nil
			}
			if start >= int64(len(data)) {
				return httpmock.NewStringResponse(http.StatusRequestedRangeNotSatisfiable, ""), nil
			}
			if end >= int64(len(data)) {
				end = int64(len(data)) - 1
			}
			resp := httpmock.NewBytesResponse(http.StatusPartialContent, data[start:end+1])
			resp.Header.Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			return resp, nil
		})
}

func getCount() int {
	return httpmock.GetCallCountInfo()[http.MethodGet+" "+testURL]
}

func newTestHTTPSource(t *testing.T, opts ...Option) *HTTPSource {
	t.Helper()
	src, err := newHTTPSource(testURL, buildOptions(opts))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestHTTPSourceProbesSize(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	registerRangeServer([]byte("0123456789"))

	src := newTestHTTPSource(t)
	assert.Equal(t, int64(10), src.Size())
}

func TestHTTPSourceReadAheadCache(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	registerRangeServer(data)

	src := newTestHTTPSource(t, WithReadAhead(16))

	buf := make([]byte, 4)
	_, err := io.ReadFull(src, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))
	assert.Equal(t, 1, getCount())

	// Sequential reads inside the window are cache hits.
	_, err = io.ReadFull(src, buf)
	require.NoError(t, err)
	assert.Equal(t, "efgh", string(buf))
	assert.Equal(t, 1, getCount())

	// Backward seek into the cached window costs nothing either.
	_, err = src.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(src, buf)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(buf))
	assert.Equal(t, 1, getCount())

	// Past the window: one more request, window replaced.
	_, err = src.Seek(20, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(src, buf)
	require.NoError(t, err)
	assert.Equal(t, "uvwx", string(buf))
	assert.Equal(t, 2, getCount())
	assert.Equal(t, int64(16+6), src.BytesTransferred())
}

func TestHTTPSourceReadAtEOF(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	registerRangeServer([]byte("tiny"))

	src := newTestHTTPSource(t)
	_, err := src.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, err = src.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	// Self-clamped: no request was needed to learn this.
	assert.Equal(t, 0, getCount())
}

func TestHTTPSourceSeekEndUnknownSize(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodHead, testURL,
		httpmock.NewErrorResponder(fmt.Errorf("head not allowed")))

	src := newTestHTTPSource(t)
	assert.Equal(t, int64(-1), src.Size())
	_, err := src.Seek(0, io.SeekEnd)
	assert.Error(t, err)
}

func TestHTTPSource416IsCleanEOF(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodHead, testURL,
		httpmock.NewErrorResponder(fmt.Errorf("head not allowed")))
	httpmock.RegisterResponder(http.MethodGet, testURL,
		httpmock.NewStringResponder(http.StatusRequestedRangeNotSatisfiable, ""))

	src := newTestHTTPSource(t)
	_, err := src.Seek(10_000, io.SeekStart)
	require.NoError(t, err)
	_, err = src.Read(make([]byte, 8))
	assert.Equal(t, io.EOF, err)
}

func TestHTTPSourceRangeIgnored(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodHead, testURL,
		httpmock.NewErrorResponder(fmt.Errorf("head not allowed")))
	// 200 without Content-Range: the server ignored the range header.
	httpmock.RegisterResponder(http.MethodGet, testURL,
		httpmock.NewStringResponder(http.StatusOK, "the whole object"))

	src := newTestHTTPSource(t)
	_, err := src.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrRangeRequestsNotSupported)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPSourceOKWithContentRangeIsPartial(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodHead, testURL,
		httpmock.NewErrorResponder(fmt.Errorf("head not allowed")))
	httpmock.RegisterResponder(http.MethodGet, testURL,
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, "slice")
			resp.Header.Set("Content-Range", "bytes 0-4/100")
			return resp, nil
		})

	src := newTestHTTPSource(t)
	buf := make([]byte, 5)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "slice", string(buf[:n]))
}

func TestHTTPSourceServerError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodHead, testURL,
		httpmock.NewErrorResponder(fmt.Errorf("head not allowed")))
	httpmock.RegisterResponder(http.MethodGet, testURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	src := newTestHTTPSource(t)
	_, err := src.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrRangeRequestsNotSupported)
}

func TestOpenRemoteArchive(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	payload := []byte("remote payload")
	block := buildRar5FileBlock("remote.txt", uint64(len(payload)), payload, rar5FileOpts{})
	archive := buildRar5Archive(block, payload, rar5EndBlock())
	registerRangeServer(archive)

	r, err := Open(testURL)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.Equal(t, VersionRar5, r.Version())

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "remote.txt", entries[0].Path)

	got, err := r.ReadEntry(entries[0])
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The whole listing plus extraction fits one read-ahead window.
	assert.Equal(t, 1, getCount())
}
