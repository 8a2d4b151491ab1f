package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

const (
	DefaultHistoryFile      = "weather_history.json"
	DefaultHistoryRetention = 50

	exportTimeLayout = "20060102_150405"
)

// snapshotFile is the on-disk shape of an exported run.
type snapshotFile struct {
	City         string            `json:"city"`
	Country      string            `json:"country,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	SourcesCount int               `json:"sources_count"`
	Sources      []weather.Reading `json:"sources"`
	Averages     weather.Aggregate `json:"averages"`
}

// FileStore keeps the trimmed run history file and writes snapshot exports.
type FileStore struct {
	mu          sync.Mutex
	historyPath string
	exportDir   string
	retention   int
	logger      zerolog.Logger
}

// NewFileStore creates a FileStore. Empty paths and a retention below 1 use the defaults.
func NewFileStore(historyPath, exportDir string, retention int, logger zerolog.Logger) *FileStore {
	if historyPath == "" {
		historyPath = DefaultHistoryFile
	}
	if exportDir == "" {
		exportDir = "."
	}
	if retention < 1 {
		retention = DefaultHistoryRetention
	}
	return &FileStore{
		historyPath: historyPath,
		exportDir:   exportDir,
		retention:   retention,
		logger:      logger,
	}
}

// LoadHistory returns the stored history entries. A missing or unreadable
// history file yields an empty history.
func (f *FileStore) LoadHistory() []weather.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) load() []weather.HistoryEntry {
	data, err := os.ReadFile(f.historyPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn().Err(err).Str("path", f.historyPath).Msg("history file unreadable, starting fresh")
		}
		return nil
	}

	var entries []weather.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		f.logger.Warn().Err(err).Str("path", f.historyPath).Msg("history file corrupt, starting fresh")
		return nil
	}
	return entries
}

// AppendHistory appends entry to the history file, keeping only the most
// recent entries up to the retention limit.
func (f *FileStore) AppendHistory(entry weather.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := append(f.load(), entry)
	if over := len(entries) - f.retention; over > 0 {
		entries = entries[over:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return writeFileAtomic(f.historyPath, data)
}

// ExportSnapshot writes a run snapshot to weather_<city>_<YYYYMMDD_HHMMSS>.json
// in the export directory and returns the file path.
func (f *FileStore) ExportSnapshot(loc weather.Location, ts time.Time, readings []weather.Reading, agg weather.Aggregate) (string, error) {
	if ts.IsZero() {
		ts = time.Now()
	}

	snap := snapshotFile{
		City:         loc.City,
		Country:      loc.Country,
		Timestamp:    ts,
		SourcesCount: len(readings),
		Sources:      weather.CloneReadings(readings),
		Averages:     agg.Clone(),
	}
	if snap.Sources == nil {
		snap.Sources = []weather.Reading{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(f.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("weather_%s_%s.json", safeName(loc.City), ts.Format(exportTimeLayout))
	path := filepath.Join(f.exportDir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// safeName keeps letters and digits of any script and replaces the rest with '_'.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return '_'
	}, s)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
