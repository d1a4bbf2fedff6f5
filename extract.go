package rarar

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ReadEntry returns the raw bytes of one entry. Store entries are served by
// a single ranged read of [DataOffset, NextOffset); any other method is
// delegated to the external unrar utility.
func (r *Reader) ReadEntry(entry *FileEntry) ([]byte, error) {
	if entry.IsDirectory {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryExtract, entry.Path)
	}
	if entry.Stored() {
		r.log.Debug("reading stored entry",
			"path", entry.Path, "offset", entry.DataOffset, "size", entry.PackedSize)
		return readAt(r.src, entry.DataOffset, entry.PackedSize)
	}
	return r.decompressEntry(entry)
}

// decompressEntry shells out to unrar for non-Store methods. The archive
// must exist on disk: remote or handle-backed sources are materialized to a
// temporary file once and reused for the rest of the session.
func (r *Reader) decompressEntry(entry *FileEntry) ([]byte, error) {
	bin := r.opts.unrarPath
	if bin == "" {
		resolved, err := exec.LookPath("unrar")
		if err != nil {
			return nil, fmt.Errorf(
				"%w: entry %s uses method %s and no unrar binary was found on PATH",
				ErrCompressionNotSupported, entry.Path, entry.MethodName())
		}
		bin = resolved
	}

	archivePath := r.localPath
	if archivePath == "" {
		p, err := r.materialize()
		if err != nil {
			return nil, err
		}
		archivePath = p
	}

	passwordSwitch := "-p-"
	if r.opts.password != "" {
		passwordSwitch = "-p" + r.opts.password
	}
	args := []string{"p", "-inul", "-y", passwordSwitch, archivePath, entry.Path}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	r.log.Debug("invoking unrar", "archive", archivePath, "entry", entry.Path)
	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = err.Error()
		}
		return nil, fmt.Errorf("%w: unrar failed for %s: %s",
			ErrCompressionNotSupported, entry.Path, diag)
	}
	return stdout.Bytes(), nil
}

// materialize copies the whole archive stream to a local temporary file so
// unrar can open it. The copy happens once per session.
func (r *Reader) materialize() (string, error) {
	if r.tempPath != "" {
		return r.tempPath, nil
	}
	tmp, err := os.CreateTemp("", "rarar-*.rar")
	if err != nil {
		return "", fmt.Errorf("materialize archive: %w", err)
	}
	if _, err := r.src.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if _, err := io.Copy(tmp, r.src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("materialize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	r.tempPath = tmp.Name()
	r.log.Debug("archive materialized", "path", r.tempPath)
	return r.tempPath, nil
}

func (r *Reader) removeTemp() {
	if r.tempPath != "" {
		_ = os.Remove(r.tempPath)
		r.tempPath = ""
	}
}

// ExtractEntry writes one entry to outputPath, creating parent directories
// as needed. An empty outputPath uses the entry's archive path.
func (r *Reader) ExtractEntry(entry *FileEntry, outputPath string) error {
	if outputPath == "" {
		outputPath = filepath.FromSlash(entry.Path)
	}
	data, err := r.ReadEntry(entry)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := r.opts.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := afero.WriteFile(r.opts.fs, outputPath, data, 0o644); err != nil {
		return err
	}
	r.log.Info("file extracted", "path", outputPath, "bytes", len(data))
	return nil
}

// ExtractResult reports the outcome of one entry in a batch extraction.
type ExtractResult struct {
	Entry *FileEntry
	Path  string
	Err   error
}

// ExtractAll extracts every non-directory entry under outputDir, preserving
// archive-relative paths. Per-entry failures are recorded and do not stop
// the batch. Iteration restarts from the beginning of the archive.
func (r *Reader) ExtractAll(outputDir string) ([]ExtractResult, error) {
	r.Reset()
	var results []ExtractResult
	for {
		entry, err := r.Next()
		if err == io.EOF {
			return results, nil
		}
		if err != nil {
			return results, err
		}
		if entry.IsDirectory {
			continue
		}
		out := filepath.Join(outputDir, filepath.FromSlash(entry.Path))
		results = append(results, ExtractResult{
			Entry: entry,
			Path:  out,
			Err:   r.ExtractEntry(entry, out),
		})
	}
}
