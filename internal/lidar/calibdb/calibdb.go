// Package calibdb caches live-reconstructed calibration tables in SQLite
// so a restarted interpreter can decode immediately instead of waiting for
// the sensor to stream every per-laser record again.
package calibdb

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/calib"
	"github.com/banshee-data/velodyne.hdl/internal/monitoring"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no complete table is cached for a sensor.
var ErrNotFound = errors.New("no cached calibration")

type CalibDB struct {
	*sql.DB
}

// schema.sql holds the per-laser slice records and the completion marker
// of each cached table.
//
//go:embed schema.sql
var schemaSQL string

func NewCalibDB(path string) (*CalibDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared between calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise calibration cache schema: %w", err)
	}

	monitoring.Logf("initialized calibration cache at %s", path)
	return &CalibDB{db}, nil
}

// SaveSlice stores one per-laser record as it arrives. A record for the
// same sensor and channel replaces the previous one.
func (c *CalibDB) SaveSlice(sensorID string, model lidar.SensorModel, s calib.Slice) error {
	_, err := c.Exec(`
		INSERT INTO calib_slices (sensor_id, model, channel, record)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sensor_id, channel) DO UPDATE SET
			model = excluded.model,
			record = excluded.record,
			write_timestamp = UNIXEPOCH('subsec')
	`, sensorID, int(model), s.Channel(), s[:])
	if err != nil {
		return fmt.Errorf("failed to save calibration slice %d for %s: %w", s.Channel(), sensorID, err)
	}
	return nil
}

// SaveTable stores every laser of a complete table and marks it complete.
func (c *CalibDB) SaveTable(sensorID string, t *calib.Table) error {
	if t == nil || !t.Complete {
		return fmt.Errorf("refusing to cache incomplete calibration for %s", sensorID)
	}

	tx, err := c.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calib_slices WHERE sensor_id = ?`, sensorID); err != nil {
		return fmt.Errorf("failed to clear calibration slices for %s: %w", sensorID, err)
	}
	for _, lc := range t.Lasers {
		s := calib.EncodeSlice(lc)
		if _, err := tx.Exec(`INSERT INTO calib_slices (sensor_id, model, channel, record) VALUES (?, ?, ?, ?)`,
			sensorID, int(t.Model), s.Channel(), s[:]); err != nil {
			return fmt.Errorf("failed to save calibration slice %d for %s: %w", s.Channel(), sensorID, err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO calib_tables (sensor_id, model, lasers) VALUES (?, ?, ?)
		ON CONFLICT (sensor_id) DO UPDATE SET
			model = excluded.model,
			lasers = excluded.lasers,
			complete_timestamp = UNIXEPOCH('subsec')
	`, sensorID, int(t.Model), t.NumLasers()); err != nil {
		return fmt.Errorf("failed to mark calibration complete for %s: %w", sensorID, err)
	}
	return tx.Commit()
}

// LoadSlices returns the stored records of a sensor in channel order,
// complete or not, with the model they were recorded for.
func (c *CalibDB) LoadSlices(sensorID string) (lidar.SensorModel, []calib.Slice, error) {
	rows, err := c.Query(`SELECT model, record FROM calib_slices WHERE sensor_id = ? ORDER BY channel`, sensorID)
	if err != nil {
		return lidar.ModelUnknown, nil, fmt.Errorf("failed to query calibration slices: %w", err)
	}
	defer rows.Close()

	model := lidar.ModelUnknown
	var slices []calib.Slice
	for rows.Next() {
		var m int
		var record []byte
		if err := rows.Scan(&m, &record); err != nil {
			return lidar.ModelUnknown, nil, fmt.Errorf("failed to scan calibration slice: %w", err)
		}
		if len(record) != calib.SliceSize {
			return lidar.ModelUnknown, nil, fmt.Errorf("calibration slice for %s has %d bytes, want %d", sensorID, len(record), calib.SliceSize)
		}
		var s calib.Slice
		copy(s[:], record)
		slices = append(slices, s)
		model = lidar.SensorModel(m)
	}
	return model, slices, rows.Err()
}

// LoadTable rebuilds the cached table of a sensor. It returns ErrNotFound
// unless the table was stored complete.
func (c *CalibDB) LoadTable(sensorID string) (*calib.Table, error) {
	var model, lasers int
	err := c.QueryRow(`SELECT model, lasers FROM calib_tables WHERE sensor_id = ?`, sensorID).Scan(&model, &lasers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration table: %w", err)
	}

	_, slices, err := c.LoadSlices(sensorID)
	if err != nil {
		return nil, err
	}
	acc, err := calib.NewAccumulator(lidar.SensorModel(model))
	if err != nil {
		return nil, err
	}
	for _, s := range slices {
		acc.AddSlice(s)
	}
	if !acc.Complete() {
		got, want := acc.Progress()
		return nil, fmt.Errorf("%w: %s has %d of %d lasers", ErrNotFound, sensorID, got, want)
	}
	if acc.Table().NumLasers() != lasers {
		return nil, fmt.Errorf("cached calibration for %s has %d lasers, recorded %d", sensorID, acc.Table().NumLasers(), lasers)
	}
	return acc.Table(), nil
}

// Forget removes everything cached for a sensor.
func (c *CalibDB) Forget(sensorID string) error {
	tx, err := c.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calib_slices WHERE sensor_id = ?`, sensorID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM calib_tables WHERE sensor_id = ?`, sensorID); err != nil {
		return err
	}
	return tx.Commit()
}
