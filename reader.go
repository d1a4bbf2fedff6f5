package rarar

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/afero"
)

// maxSearchSize bounds the signature scan; a marker beyond the first MiB
// means the source is not a RAR archive.
const maxSearchSize = 1024 * 1024

// defaultChunkSize is the block size used while scanning for signatures.
const defaultChunkSize = 8192

type options struct {
	fs           afero.Fs
	httpClient   *http.Client
	log          *slog.Logger
	chunkSize    int
	readAhead    int64
	forceVersion int
	password     string
	unrarPath    string
}

// Option configures a Reader.
type Option func(*options)

// WithFS sets the filesystem used for local volumes and extraction output.
func WithFS(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

// WithHTTPClient sets the client used for remote sources.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithLogger sets the diagnostic logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithChunkSize sets the signature-scan chunk size.
func WithChunkSize(n int) Option { return func(o *options) { o.chunkSize = n } }

// WithReadAhead sets the HTTP read-ahead window size.
func WithReadAhead(n int64) Option { return func(o *options) { o.readAhead = n } }

// WithForceVersion skips signature detection and selects the parser for the
// given version (3, 4 or 5). Any other value fails before any I/O.
func WithForceVersion(v int) Option { return func(o *options) { o.forceVersion = v } }

// WithPassword supplies the archive password handed to the external unrar
// utility for non-Store entries.
func WithPassword(p string) Option { return func(o *options) { o.password = p } }

// WithUnrarPath overrides PATH resolution of the unrar binary.
func WithUnrarPath(p string) Option { return func(o *options) { o.unrarPath = p } }

func buildOptions(opts []Option) *options {
	o := &options{
		fs:        afero.NewOsFs(),
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// blockParser is the per-format traversal state machine. The factory selects
// the variant once at construction; thereafter all dispatch goes through
// this interface.
type blockParser interface {
	// findMarker locates this format's signature, bounded by maxSearchSize.
	findMarker() (int64, error)
	// start primes the cursor just past the marker, validating any leading
	// archive header. RAR3 raises ErrInvalidFormat here.
	start(marker int64) error
	// next returns the next file entry, io.EOF at clean end of archive, or
	// a hard error for source failures.
	next() (*FileEntry, error)
}

// Reader is a lazy, forward-only session over one RAR archive. It owns its
// ByteSource exclusively and is not safe for concurrent use. Iteration is
// restartable via Reset, which reuses the marker position discovered at
// first traversal instead of re-scanning.
type Reader struct {
	src    ByteSource
	log    *slog.Logger
	opts   *options
	parser blockParser

	version int
	marker  int64 // -1 until discovered

	started bool
	done    bool

	// localPath is set when the source is a local archive; extraction of
	// non-Store entries hands it to unrar directly instead of materializing.
	localPath string
	tempPath  string
}

// Open constructs a Reader from a local path or URL. Local paths are
// expanded to multi-volume sets when sibling volumes exist.
func Open(source string, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)
	if err := checkForceVersion(o.forceVersion); err != nil {
		return nil, err
	}
	src, err := newByteSource(source, o)
	if err != nil {
		return nil, err
	}
	localPath := ""
	if !isURL(source) {
		localPath = source
	}
	r, err := newReader(src, localPath, o)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return r, nil
}

// NewReader constructs a Reader over an already-open ByteSource. The Reader
// takes ownership of src and closes it on Close.
func NewReader(src ByteSource, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)
	if err := checkForceVersion(o.forceVersion); err != nil {
		return nil, err
	}
	return newReader(src, "", o)
}

func checkForceVersion(v int) error {
	switch v {
	case 0, VersionRar3, VersionRar4, VersionRar5:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
}

func newReader(src ByteSource, localPath string, o *options) (*Reader, error) {
	r := &Reader{
		src:       src,
		log:       o.log.With("component", "reader"),
		opts:      o,
		marker:    -1,
		localPath: localPath,
	}
	switch o.forceVersion {
	case VersionRar3, VersionRar4:
		r.version = o.forceVersion
		r.parser = newRar3Parser(src, r.log)
	case VersionRar5:
		r.version = VersionRar5
		r.parser = newRar5Parser(src, r.log)
	default:
		version, marker, err := detectVersion(src, o.chunkSize)
		if err != nil {
			return nil, err
		}
		r.version = version
		r.marker = marker
		if version == VersionRar5 {
			r.parser = newRar5Parser(src, r.log)
		} else {
			r.parser = newRar3Parser(src, r.log)
		}
		r.log.Debug("format detected", "version", version, "marker", marker)
	}
	return r, nil
}

// detectVersion scans bounded chunks for both signatures, advancing by
// chunk size minus the longer marker length so a signature split across a
// chunk boundary is never missed. The lowest-offset match wins.
func detectVersion(src ByteSource, chunkSize int) (int, int64, error) {
	pos := int64(0)
	for pos < maxSearchSize {
		want := int64(chunkSize)
		if pos+want > maxSearchSize {
			want = maxSearchSize - pos
		}
		chunk, err := readAt(src, pos, want)
		if err != nil {
			return 0, 0, err
		}
		if len(chunk) == 0 {
			break
		}
		// The signatures differ at byte 6, so they never match at the same
		// offset; whichever appears first decides the format.
		i3 := bytes.Index(chunk, sigRar3)
		i5 := bytes.Index(chunk, sigRar5)
		if i3 >= 0 && (i5 < 0 || i3 < i5) {
			return VersionRar3, pos + int64(i3), nil
		}
		if i5 >= 0 {
			return VersionRar5, pos + int64(i5), nil
		}
		step := len(chunk) - len(sigRar5) + 1
		if step < 1 {
			step = 1
		}
		pos += int64(step)
	}
	return 0, 0, ErrMarkerNotFound
}

// findMarker locates a single signature, used by parsers when the version
// was forced and no dual scan ran.
func findMarker(src ByteSource, sig []byte, chunkSize int) (int64, error) {
	pos := int64(0)
	for pos < maxSearchSize {
		want := int64(chunkSize)
		if pos+want > maxSearchSize {
			want = maxSearchSize - pos
		}
		chunk, err := readAt(src, pos, want)
		if err != nil {
			return 0, err
		}
		if len(chunk) == 0 {
			break
		}
		if i := bytes.Index(chunk, sig); i >= 0 {
			return pos + int64(i), nil
		}
		step := len(chunk) - len(sig) + 1
		if step < 1 {
			step = 1
		}
		pos += int64(step)
	}
	return 0, ErrMarkerNotFound
}

// Version returns the archive format version (3 or 5; 4 when forced).
func (r *Reader) Version() int { return r.version }

// BytesTransferred reports the payload bytes fetched from the underlying
// source so far.
func (r *Reader) BytesTransferred() int64 { return r.src.BytesTransferred() }

// Next returns the next entry in archive order, lazily: only header bytes
// are read, payloads are skipped by offset arithmetic. It returns io.EOF at
// the end of the archive, which includes truncated or trailing-garbage
// tails.
func (r *Reader) Next() (*FileEntry, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.started {
		if r.marker < 0 {
			marker, err := r.parser.findMarker()
			if err != nil {
				return nil, err
			}
			r.marker = marker
		}
		if err := r.parser.start(r.marker); err != nil {
			return nil, err
		}
		r.started = true
	}
	entry, err := r.parser.next()
	if err == io.EOF {
		r.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reset rewinds iteration to the first entry. The marker position from the
// first traversal is kept; signature discovery never runs twice.
func (r *Reader) Reset() {
	r.started = false
	r.done = false
}

// List drains the iterator and returns all entries in archive order.
func (r *Reader) List() ([]*FileEntry, error) {
	var entries []*FileEntry
	for {
		entry, err := r.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
}

// Close releases the underlying source and any temporary materialization.
func (r *Reader) Close() error {
	r.removeTemp()
	return r.src.Close()
}
