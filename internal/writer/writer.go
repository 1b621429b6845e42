// internal/writer/writer.go
package writer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileNameLayout names output files by capture start time.
const FileNameLayout = "2006-01-02_15-04-05"

// FileConfig is the minimal config the file writer needs.
type FileConfig struct {
	Dir        string
	BufferSize int

	// Now is the clock used for file names. Defaults to time.Now.
	Now func() time.Time

	// OnClose is called with the path of every file that gets closed
	// (rotation or shutdown). Optional.
	OnClose func(path string)
}

// FileWriter appends text to a lazily-opened, timestamp-named file through a
// BufferSize write buffer. Data reaches the OS when the buffer fills and on
// Rotate or Close, never per Write. Rotate closes the current file; the next
// Write opens a fresh one.
type FileWriter struct {
	mu sync.Mutex

	dir     string
	bufSize int
	now     func() time.Time
	onClose func(path string)

	f        *os.File
	bw       *bufio.Writer
	path     string
	lastName string
	seq      int
}

// NewFileWriter creates a writer. No file is created until the first Write.
func NewFileWriter(cfg FileConfig) (*FileWriter, error) {
	if cfg.Dir == "" {
		return nil, errors.New("writer: output dir required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 65536
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FileWriter{
		dir:     cfg.Dir,
		bufSize: cfg.BufferSize,
		now:     cfg.Now,
		onClose: cfg.OnClose,
	}, nil
}

// Write appends p to the buffer of the current file.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}

	n, err := w.bw.Write(p)
	if err != nil {
		return n, fmt.Errorf("writer: write %s: %w", w.path, err)
	}
	return n, nil
}

// Rotate closes the current file, if any.
func (w *FileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Close is Rotate; the writer stays usable.
func (w *FileWriter) Close() error { return w.Rotate() }

// Path returns the currently open file, or "" when none is open.
func (w *FileWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *FileWriter) open() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("writer: create output dir: %w", err)
	}

	name := w.now().Format(FileNameLayout)
	// Two rotations within one second must still land in different files.
	if name == w.lastName {
		w.seq++
		name = fmt.Sprintf("%s_%d", name, w.seq)
	} else {
		w.lastName = name
		w.seq = 0
	}

	path := filepath.Join(w.dir, name+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("writer: open %s: %w", path, err)
	}

	w.f = f
	w.bw = bufio.NewWriterSize(f, w.bufSize)
	w.path = path
	return nil
}

func (w *FileWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}

	path := w.path
	flushErr := w.bw.Flush()
	closeErr := w.f.Close()

	w.f = nil
	w.bw = nil
	w.path = ""

	if w.onClose != nil {
		w.onClose(path)
	}

	if flushErr != nil {
		return fmt.Errorf("writer: flush %s: %w", path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("writer: close %s: %w", path, closeErr)
	}
	return nil
}
