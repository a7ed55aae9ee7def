package calib

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// maxDescriptionSize bounds calibration files read from disk.
const maxDescriptionSize = 1 * 1024 * 1024

// Store publishes the active calibration table. Loads and live-completion
// installs take the write lock; the decode path reads a snapshot pointer per
// packet under the read lock. Published tables are never mutated.
type Store struct {
	mu    sync.RWMutex
	table *Table

	// reported is the sensor model last declared by the packet stream.
	reported lidar.SensorModel
	mismatch lidar.WarnOnce
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Table returns the active table, or nil when none is loaded.
func (s *Store) Table() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// LoadFromFile parses a YAML (.yaml, .yml) or CSV (.csv) description and
// installs it. On failure the previous table is retained.
func (s *Store) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return calibErrorf(cleanPath, err, "cannot stat description")
	}
	if info.Size() > maxDescriptionSize {
		return calibErrorf(cleanPath, nil, "description too large: %d bytes (max %d)", info.Size(), maxDescriptionSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return calibErrorf(cleanPath, err, "cannot read description")
	}

	var desc Description
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml":
		desc, err = ParseYAML(bytes.NewReader(data))
	case ".csv":
		desc, err = ParseCSV(bytes.NewReader(data))
	default:
		return calibErrorf(cleanPath, nil, "unsupported description format %q", ext)
	}
	if err != nil {
		return calibErrorf(cleanPath, err, "malformed description")
	}

	return s.load(desc, SourceFile, cleanPath)
}

// Load installs an in-memory description.
func (s *Store) Load(desc Description) error {
	return s.load(desc, SourceFile, "description")
}

func (s *Store) load(desc Description, source Source, label string) error {
	table, err := Build(desc, source, label)
	if err != nil {
		return err
	}
	return s.install(table, label)
}

// Install publishes a complete table built elsewhere, typically by the live
// Accumulator. A live table is refused while a file-sourced table is active.
func (s *Store) Install(t *Table) error {
	if t == nil || !t.Complete {
		return calibErrorf("install", nil, "table is incomplete")
	}
	return s.install(t, t.Source.String())
}

func (s *Store) install(t *Table, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Source == SourceLive && s.table != nil && s.table.Source == SourceFile {
		return calibErrorf(label, nil, "file-sourced table is active, live table refused")
	}
	if n := s.reported.Lasers(); n != 0 && n != t.NumLasers() {
		return calibErrorf(label, nil, "stream reports %s (%d lasers) but description has %d", s.reported, n, t.NumLasers())
	}

	s.table = t
	s.mismatch.Reset()
	lidar.Opsf("calibration installed: model=%s lasers=%d source=%s", t.Model, t.NumLasers(), t.Source)
	return nil
}

// CheckSensorConsistency compares the sensor identity declared by the
// packet stream with the active table: laser count, and sensor family when
// both models are known. A mismatch is logged once per
// session and reported as false; it is never fatal.
func (s *Store) CheckSensorConsistency(reported lidar.SensorModel, factory1, factory2 uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reported = reported
	if s.table == nil {
		return true
	}

	n := reported.Lasers()
	familyKnown := reported.Family() != lidar.FamilyUnknown && s.table.Model.Family() != lidar.FamilyUnknown
	if n == s.table.NumLasers() && (!familyKnown || reported.Family() == s.table.Model.Family()) {
		return true
	}

	switch {
	case n == s.table.NumLasers():
		s.mismatch.Opsf("data packets report %s but the calibration is for %s; decoding continues with the loaded table",
			reported, s.table.Model)
	case n == 0:
		s.mismatch.Opsf("sensor information in the data packets is unknown (factory fields 0x%02x 0x%02x); decoding with %s calibration",
			factory1, factory2, s.table.Model)
	default:
		s.mismatch.Opsf("data packets report %s with %d lasers, which does not match the %d-laser calibration; decoding continues with the loaded table",
			reported, n, s.table.NumLasers())
	}
	return false
}

// ObserveReportedModel records the stream's declared sensor without
// checking it against the table.
func (s *Store) ObserveReportedModel(reported lidar.SensorModel) {
	s.mu.Lock()
	s.reported = reported
	s.mu.Unlock()
}

// ReportedModel returns the sensor model last declared by the stream.
func (s *Store) ReportedModel() lidar.SensorModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reported
}

// Reset forgets the table, the reported sensor and the mismatch latch.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = nil
	s.reported = lidar.ModelUnknown
	s.mismatch.Reset()
}

func (s *Store) String() string {
	t := s.Table()
	if t == nil {
		return "calib.Store(empty)"
	}
	return fmt.Sprintf("calib.Store(%s, %d lasers, %s)", t.Model, t.NumLasers(), t.Source)
}
