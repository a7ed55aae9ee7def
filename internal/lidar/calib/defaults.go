package calib

import (
	"embed"
	"fmt"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

//go:embed sensor_configs/*.csv
var embeddedConfigs embed.FS

// DefaultTable returns the nominal embedded table for model. Only sensors
// with a fixed factory geometry have one (VLP-16, HDL-32E, VLP-32C).
func DefaultTable(model lidar.SensorModel) (*Table, error) {
	name := fmt.Sprintf("sensor_configs/%s.csv", model)
	file, err := embeddedConfigs.Open(name)
	if err != nil {
		return nil, calibErrorf(model.String(), err, "no embedded default calibration")
	}
	defer file.Close()

	desc, err := ParseCSV(file)
	if err != nil {
		return nil, calibErrorf(name, err, "malformed embedded calibration")
	}
	return Build(desc, SourceDefault, name)
}

// LoadDefault installs the embedded nominal table for model.
func (s *Store) LoadDefault(model lidar.SensorModel) error {
	table, err := DefaultTable(model)
	if err != nil {
		return err
	}
	return s.install(table, "default "+model.String())
}
