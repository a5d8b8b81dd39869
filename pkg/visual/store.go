package visual

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrBaselineNotFound is returned when a snapshot has no baseline yet.
var ErrBaselineNotFound = errors.New("baseline not found")

// ErrActualNotFound is returned when a snapshot has no pending actual image.
var ErrActualNotFound = errors.New("no pending actual image")

const pngExt = ".png"

// Store manages baseline, actual and diff images on disk. Baselines and
// actuals are keyed by snapshot name; diffs by name plus a time-ordered ULID.
// Names are escaped into file names reversibly, so distinct names never
// share a file and listings report the names callers used.
type Store struct {
	BaselineDir string
	ActualDir   string
	DiffDir     string
}

// NewStore creates a store with the given directories.
func NewStore(baselineDir, actualDir, diffDir string) *Store {
	return &Store{BaselineDir: baselineDir, ActualDir: actualDir, DiffDir: diffDir}
}

// Pending is a snapshot whose latest capture mismatched its baseline.
type Pending struct {
	Name         string
	ActualPath   string
	BaselinePath string // Empty if the baseline was removed meanwhile
	DiffPath     string // Most recent diff, if any
	CapturedAt   time.Time
}

// BaselinePath returns the baseline file for name.
func (s *Store) BaselinePath(name string) string {
	return filepath.Join(s.BaselineDir, fileName(name))
}

// ActualPath returns the actual file for name.
func (s *Store) ActualPath(name string) string {
	return filepath.Join(s.ActualDir, fileName(name))
}

// LoadBaseline decodes the baseline for name.
func (s *Store) LoadBaseline(name string) (image.Image, error) {
	img, err := loadPNG(s.BaselinePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBaselineNotFound
		}
		return nil, fmt.Errorf("baseline %q: %w", name, err)
	}
	return img, nil
}

// HasBaseline checks if a baseline exists.
func (s *Store) HasBaseline(name string) bool {
	_, err := os.Stat(s.BaselinePath(name))
	return err == nil
}

// SaveBaseline writes PNG data as the baseline for name.
func (s *Store) SaveBaseline(name string, data []byte) (string, error) {
	path := s.BaselinePath(name)
	return path, writeAtomic(path, data)
}

// SaveActual writes PNG data as the pending actual for name.
func (s *Store) SaveActual(name string, data []byte) (string, error) {
	path := s.ActualPath(name)
	return path, writeAtomic(path, data)
}

// DeleteActual removes the pending actual for name.
func (s *Store) DeleteActual(name string) error {
	err := os.Remove(s.ActualPath(name))
	if os.IsNotExist(err) {
		return ErrActualNotFound
	}
	return err
}

// SaveDiff encodes img as a new diff artifact for name.
func (s *Store) SaveDiff(name string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode diff: %w", err)
	}
	path := filepath.Join(s.DiffDir, EscapeName(name)+"-"+ulid.Make().String()+pngExt)
	return path, writeAtomic(path, buf.Bytes())
}

// LatestDiff returns the most recent diff for name, or "".
func (s *Store) LatestDiff(name string) string {
	prefix := EscapeName(name) + "-"
	entries, err := os.ReadDir(s.DiffDir)
	if err != nil {
		return ""
	}
	var latest string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, pngExt) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(n, prefix), pngExt)
		if _, err := ulid.ParseStrict(id); err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	if latest == "" {
		return ""
	}
	return filepath.Join(s.DiffDir, latest)
}

// ListPending returns snapshots with a pending actual image, sorted by name.
func (s *Store) ListPending() ([]Pending, error) {
	entries, err := os.ReadDir(s.ActualDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Pending{}, nil
		}
		return nil, err
	}

	pending := []Pending{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pngExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name, err := UnescapeName(strings.TrimSuffix(e.Name(), pngExt))
		if err != nil {
			continue
		}
		p := Pending{
			Name:       name,
			ActualPath: filepath.Join(s.ActualDir, e.Name()),
			DiffPath:   s.LatestDiff(name),
		}
		if info, err := e.Info(); err == nil {
			p.CapturedAt = info.ModTime()
		}
		if s.HasBaseline(name) {
			p.BaselinePath = s.BaselinePath(name)
		}
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Name < pending[j].Name })
	return pending, nil
}

// Approve replaces the baseline for name with its pending actual. The
// actual is consumed.
func (s *Store) Approve(name string) error {
	src := s.ActualPath(name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return ErrActualNotFound
		}
		return err
	}
	dst := s.BaselinePath(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Different filesystems: copy, then remove
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("approve %q: %w", name, err)
	}
	return os.Remove(src)
}

// Reject discards the pending actual for name. The baseline is untouched.
func (s *Store) Reject(name string) error {
	return s.DeleteActual(name)
}

// RemoveDiff deletes a diff written by SaveDiff. Missing files are ignored.
func (s *Store) RemoveDiff(path string) error {
	if path == "" || filepath.Dir(path) != filepath.Clean(s.DiffDir) {
		return fmt.Errorf("%s is not a diff of this store", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fileName(name string) string {
	return EscapeName(name) + pngExt
}

// EscapeName maps a snapshot name to a file name stem. Letters, digits,
// '-' and '_' are kept; every other byte, and a leading '.', becomes %XX.
func EscapeName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		case c == '.' && i > 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// UnescapeName reverses EscapeName.
func UnescapeName(stem string) (string, error) {
	return url.PathUnescape(stem)
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path) //#nosec G304 -- path inside snapshot directories
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place so readers never observe a partial image.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //#nosec G304 -- path inside snapshot directories
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return writeAtomic(dst, data)
}
