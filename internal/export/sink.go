package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes exports into Dir. Data goes to a temporary file that is
// renamed into place, so a failed write never leaves a partial PNG.
type FileSink struct {
	Dir string
}

func (s FileSink) Write(ctx context.Context, name string, data []byte) error {
	if strings.TrimSpace(s.Dir) == "" {
		return errors.New("output directory is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return fmt.Errorf("invalid export file name %q", name)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod output file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.Dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename output file: %w", err)
	}
	return nil
}

// WriterSink streams a finished export to W. Before runs first, with the
// final name and size, e.g. to set download headers.
type WriterSink struct {
	W      io.Writer
	Before func(name string, size int)
}

func (s WriterSink) Write(_ context.Context, name string, data []byte) error {
	if s.W == nil {
		return errors.New("writer is required")
	}
	if s.Before != nil {
		s.Before(name, len(data))
	}
	_, err := s.W.Write(data)
	return err
}

// MemorySink keeps the last export in memory.
type MemorySink struct {
	Name string
	Data []byte
}

func (s *MemorySink) Write(_ context.Context, name string, data []byte) error {
	s.Name = name
	s.Data = append(s.Data[:0], data...)
	return nil
}

// ContentDisposition builds an attachment header for name.
func ContentDisposition(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, filepath.Base(name))
	return fmt.Sprintf("attachment; filename=%q", name)
}
