package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

const (
	// logDirPerm is the permission mode for the log directory.
	logDirPerm = fs.FileMode(0o755)

	// logFilePerm is the permission mode for per-folder log files.
	logFilePerm = fs.FileMode(0o644)
)

// FolderLog is an append-only log file owned by a single folder worker.
// Its size is capped by Trim, which keeps only the newest bytes.
type FolderLog struct {
	path     string
	maxBytes int64

	mu sync.Mutex
	f  *os.File
}

// LogName derives a log file name from a local folder path, e.g.
// /home/user/docs becomes mirror_home_user_docs_51ed6727.log. The suffix
// is a hash of the cleaned path so /a/b_c and /a_b/c get distinct files.
func LogName(localPath string) string {
	clean := filepath.ToSlash(filepath.Clean(localPath))

	name := strings.Trim(clean, "/")
	name = strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(name)

	if name == "" {
		name = "root"
	}

	sum := sha256.Sum256([]byte(clean))

	return "mirror_" + name + "_" + hex.EncodeToString(sum[:4]) + ".log"
}

// OpenFolderLog opens (creating if needed) the log file for localPath
// inside dir. A maxBytes of zero disables trimming.
func OpenFolderLog(dir, localPath string, maxBytes int64) (*FolderLog, error) {
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	fl := &FolderLog{
		path:     filepath.Join(dir, LogName(localPath)),
		maxBytes: maxBytes,
	}

	if err := fl.open(); err != nil {
		return nil, err
	}

	return fl, nil
}

func (fl *FolderLog) open() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		return fmt.Errorf("opening folder log %s: %w", fl.path, err)
	}

	fl.f = f

	return nil
}

// Path returns the log file location.
func (fl *FolderLog) Path() string {
	return fl.path
}

// Write implements io.Writer.
func (fl *FolderLog) Write(p []byte) (int, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.f == nil {
		return 0, os.ErrClosed
	}

	return fl.f.Write(p)
}

// Trim truncates the file to its newest maxBytes bytes when it has grown
// past that size. It reports whether a truncation happened.
func (fl *FolderLog) Trim() (bool, error) {
	if fl.maxBytes <= 0 {
		return false, nil
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	info, err := os.Stat(fl.path)
	if err != nil {
		return false, fmt.Errorf("stat folder log: %w", err)
	}

	if info.Size() <= fl.maxBytes {
		return false, nil
	}

	tail, err := readTail(fl.path, fl.maxBytes)
	if err != nil {
		return false, err
	}

	if fl.f != nil {
		_ = fl.f.Close()
		fl.f = nil
	}

	if err := os.WriteFile(fl.path, tail, logFilePerm); err != nil {
		return false, fmt.Errorf("rewriting folder log: %w", err)
	}

	return true, fl.open()
}

// Limit returns the configured size cap in human-readable form.
func (fl *FolderLog) Limit() string {
	return humanize.Bytes(uint64(fl.maxBytes))
}

// Close closes the underlying file.
func (fl *FolderLog) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.f == nil {
		return nil
	}

	err := fl.f.Close()
	fl.f = nil

	return err
}

func readTail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path built from LOG_DIR
	if err != nil {
		return nil, fmt.Errorf("opening folder log for trim: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(-n, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("seeking folder log: %w", err)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("reading folder log tail: %w", err)
	}

	return buf, nil
}
