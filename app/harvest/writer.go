package harvest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Writer persists record collections under the data directory.
type Writer struct {
	dataDir string
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

func (w *Writer) TargetPath(t Target) string {
	return filepath.Join(w.dataDir, t.Kind.SourceDir(), fmt.Sprintf("%s_%s.json", t.Tag(), t.Kind))
}

func (w *Writer) CombinedPath(k Kind) string {
	return filepath.Join(w.dataDir, k.SourceDir(), fmt.Sprintf("all_%s.json", k))
}

func (w *Writer) WriteTarget(t Target, records []Record) (string, error) {
	path := w.TargetPath(t)
	if err := WriteJSON(path, nonNil(records)); err != nil {
		return "", err
	}
	return path, nil
}

// ReadTarget loads the records a previous run wrote for t. found is false
// when no output file exists yet.
func (w *Writer) ReadTarget(t Target) (records []Record, found bool, err error) {
	data, err := os.ReadFile(w.TargetPath(t))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", w.TargetPath(t), err)
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", w.TargetPath(t), err)
	}
	return records, true, nil
}

func (w *Writer) WriteCombined(k Kind, records []Record) (string, error) {
	path := w.CombinedPath(k)
	if err := WriteJSON(path, nonNil(records)); err != nil {
		return "", err
	}
	return path, nil
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

// WriteJSON encodes v as indented JSON and atomically replaces path with it.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// WriteJSONLines writes one compact JSON document per line and atomically
// replaces path with the result.
func WriteJSONLines[T any](path string, rows []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row %d of %s: %w", i, path, err)
		}
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	committed = true

	return nil
}
