package rarar

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by readers and sources. Wrap with %w so callers
// can classify failures with errors.Is.
var (
	// ErrUnknownSource reports a source string that is neither an openable
	// local path nor a syntactically valid URL.
	ErrUnknownSource = errors.New("unknown source type")

	// ErrMarkerNotFound reports that no RAR signature appears within the
	// bounded search window. The session is unusable.
	ErrMarkerNotFound = errors.New("RAR marker not found within search limit")

	// ErrInvalidFormat reports a present but malformed archive header; the
	// source is not a RAR archive.
	ErrInvalidFormat = errors.New("invalid RAR format")

	// ErrUnsupportedVersion reports a forced version outside {3, 4, 5}. It
	// is raised before any I/O.
	ErrUnsupportedVersion = errors.New("unsupported RAR version")

	// ErrNetwork reports an HTTP transport failure.
	ErrNetwork = errors.New("network error")

	// ErrRangeRequestsNotSupported reports a server answering a declared
	// range request with a plain 200 and no Content-Range. It is a network
	// error: errors.Is(err, ErrNetwork) holds.
	ErrRangeRequestsNotSupported = fmt.Errorf("range requests not supported: %w", ErrNetwork)

	// ErrDirectoryExtract reports an attempt to extract a directory entry.
	ErrDirectoryExtract = errors.New("directory extracts are not supported")

	// ErrCompressionNotSupported reports a non-Store entry that could not be
	// handed to the external unrar utility (binary missing, nonzero exit, or
	// a password problem). The message carries the utility's stderr.
	ErrCompressionNotSupported = errors.New("compressed file unsupported")
)
