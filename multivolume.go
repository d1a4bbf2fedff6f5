package rarar

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/afero"
)

// MultiVolumeSource presents an ordered list of local volume files as one
// seekable stream. At most one volume handle is open at a time; crossing a
// volume boundary closes the previous handle. A single Read may span any
// number of boundaries and only stops short at true end of archive.
type MultiVolumeSource struct {
	fs     afero.Fs
	paths  []string
	sizes  []int64
	starts []int64 // cumulative start offset per volume
	total  int64

	pos         int64
	openIndex   int
	openFile    afero.File
	transferred int64
}

// NewMultiVolumeSource stats every path and builds the cumulative offset
// table. All volumes must exist up front.
func NewMultiVolumeSource(fs afero.Fs, paths []string) (*MultiVolumeSource, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one volume path is required")
	}
	s := &MultiVolumeSource{
		fs:        fs,
		paths:     paths,
		sizes:     make([]int64, len(paths)),
		starts:    make([]int64, len(paths)),
		openIndex: -1,
	}
	var offset int64
	for i, p := range paths {
		st, err := fs.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, p)
		}
		s.sizes[i] = st.Size()
		s.starts[i] = offset
		offset += st.Size()
	}
	s.total = offset
	return s, nil
}

// Size returns the total concatenated length.
func (s *MultiVolumeSource) Size() int64 { return s.total }

func (s *MultiVolumeSource) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.total + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("seek position cannot be negative")
	}
	if pos > s.total {
		pos = s.total
	}
	s.pos = pos
	return s.pos, nil
}

// volumeFor maps a logical offset to a volume index via binary search over
// the cumulative starts.
func (s *MultiVolumeSource) volumeFor(pos int64) int {
	if pos >= s.total {
		return len(s.starts) - 1
	}
	// First volume whose start exceeds pos, minus one.
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > pos })
	return i - 1
}

func (s *MultiVolumeSource) ensureOpen(index int) (afero.File, error) {
	if s.openIndex == index && s.openFile != nil {
		return s.openFile, nil
	}
	if s.openFile != nil {
		_ = s.openFile.Close()
		s.openFile = nil
		s.openIndex = -1
	}
	f, err := s.fs.Open(s.paths[index])
	if err != nil {
		return nil, err
	}
	s.openFile = f
	s.openIndex = index
	return f, nil
}

func (s *MultiVolumeSource) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.pos >= s.total {
		return 0, io.EOF
	}
	read := 0
	for read < len(p) && s.pos < s.total {
		index := s.volumeFor(s.pos)
		intra := s.pos - s.starts[index]
		remaining := s.sizes[index] - intra
		if remaining <= 0 {
			break
		}
		want := int64(len(p) - read)
		if want > remaining {
			want = remaining
		}
		f, err := s.ensureOpen(index)
		if err != nil {
			return read, err
		}
		if _, err := f.Seek(intra, io.SeekStart); err != nil {
			return read, err
		}
		n, err := f.Read(p[read : read+int(want)])
		read += n
		s.pos += int64(n)
		s.transferred += int64(n)
		if err != nil && err != io.EOF {
			return read, err
		}
		if n == 0 {
			break
		}
	}
	return read, nil
}

func (s *MultiVolumeSource) Close() error {
	if s.openFile != nil {
		err := s.openFile.Close()
		s.openFile = nil
		s.openIndex = -1
		return err
	}
	return nil
}

func (s *MultiVolumeSource) BytesTransferred() int64 { return s.transferred }
