// ============================================================================
// lapboard Report - leaderboard export
// ============================================================================
//
// Package: internal/report
// File: report.go
// Function: Writes the latest leaderboard to disk as JSON or XLSX
//
// Format selection:
//   The file extension decides: ".json" or ".xlsx". Anything else is
//   ErrUnsupportedFormat.
//
// Atomic write:
//   1. write everything to a temp file in the target directory
//   2. chmod 0644 (CreateTemp uses 0600)
//   3. os.Rename(temp, path)
//   A crash mid-write leaves the previous export untouched.
//
// JSON layout (schema_ver 1):
//   {
//     "schema_ver": 1,
//     "exported_at": "...",
//     "leaderboard": { "query": {...}, "results": [...], ... }
//   }
//
// ============================================================================

package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// SchemaVersion of the JSON document
const SchemaVersion = 1

// exportPerm is the mode of every written export
const exportPerm os.FileMode = 0o644

var (
	ErrCorruptedReport     = errors.New("report file is corrupted")
	ErrIncompatibleVersion = errors.New("report schema version is incompatible")
	ErrReportNotFound      = errors.New("report file not found")
	ErrUnsupportedFormat   = errors.New("unsupported report format")
)

// Format of an export file
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Document is the JSON export.
type Document struct {
	SchemaVer   int               `json:"schema_ver"`
	ExportedAt  time.Time         `json:"exported_at"`
	Leaderboard types.Leaderboard `json:"leaderboard"`
}

// Manager writes exports to one path.
type Manager struct {
	path   string     // export file path
	format Format     // derived from the extension
	mu     sync.Mutex // serialises writes
}

// NewManager validates the extension of path.
func NewManager(path string) (*Manager, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, format: format}, nil
}

// Write exports board atomically.
func (m *Manager) Write(board types.Leaderboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.format {
	case FormatXLSX:
		return writeAtomic(m.path, func(w io.Writer) error {
			return writeXLSX(w, board)
		})
	default:
		doc := Document{
			SchemaVer:   SchemaVersion,
			ExportedAt:  time.Now().UTC(),
			Leaderboard: board,
		}
		jsonBytes, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		return writeAtomic(m.path, func(w io.Writer) error {
			_, err := w.Write(jsonBytes)
			return err
		})
	}
}

// Load reads a JSON export back.
func (m *Manager) Load() (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doc Document
	if m.format != FormatJSON {
		return doc, fmt.Errorf("%w: load needs a .json export", ErrUnsupportedFormat)
	}

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, ErrReportNotFound
		}
		return doc, fmt.Errorf("failed to read report: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrCorruptedReport, err)
	}
	if doc.SchemaVer != SchemaVersion {
		return doc, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, doc.SchemaVer, SchemaVersion)
	}
	return doc, nil
}

// Exists reports whether the export file is present
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

func (m *Manager) GetPath() string {
	return m.path
}

func (m *Manager) GetFormat() Format {
	return m.format
}

// writeAtomic writes through a temp file in the same directory, then renames.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp report: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp report: %w", err)
	}
	// CreateTemp makes the file 0600; exports are meant to be shared
	if err := tmp.Chmod(exportPerm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}
