package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/velodyne.hdl/internal/config"
	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/parse"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/trig"
	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// Options holds the dependencies and settings of one Interpreter.
type Options struct {
	SensorID  string
	SessionID uuid.UUID // zero value selects a random session

	// Trig is the shared azimuth lookup table. Build it once with trig.New
	// and hand it to every interpreter; New builds a private one when nil.
	Trig *trig.Table

	Decoder    parse.Options
	DualPolicy lidar.DualReturnPolicy

	RPMWindow  int
	RPMMaxGap  time.Duration
	MinSpinRPM float64

	// CalibrationFile is loaded at construction when set (.yaml, .yml or .csv).
	CalibrationFile string
	// CalibrationCache is the SQLite file holding live-reconstructed tables.
	CalibrationCache string

	// OnFrame receives every sealed frame synchronously. When nil, frames
	// are queued and returned by Frames.
	OnFrame func(*l2frames.Frame)

	Metrics *monitoring.DecoderCollector // Optional
}

// OptionsFromConfig maps a validated decoder configuration to Options.
func OptionsFromConfig(cfg *config.DecoderConfig) (Options, error) {
	if cfg == nil {
		cfg = config.EmptyDecoderConfig()
	}
	policy, err := lidar.ParseDualReturnPolicy(cfg.GetDualReturnFilter())
	if err != nil {
		return Options{}, fmt.Errorf("invalid dual_return_filter: %w", err)
	}

	return Options{
		SensorID: cfg.GetSensorID(),
		Decoder: parse.Options{
			FiringSkip:            cfg.GetFiringSkip(),
			IntensityCorrection:   cfg.GetIntensityCorrection(),
			IntraFiringAdjustment: cfg.GetIntraFiringAdjustment(),
			CheckSensor:           cfg.GetCheckSensor(),
			KeepZeroDistances:     cfg.GetKeepZeroDistances(),
			SplitAzimuth:          cfg.GetFrameSplitAzimuth(),
			WrapTolerance:         cfg.GetAzimuthWrapTolerance(),
		},
		DualPolicy:       policy,
		RPMWindow:        cfg.GetRPMWindow(),
		RPMMaxGap:        cfg.GetRPMMaxGap(),
		MinSpinRPM:       cfg.GetMinSpinRPM(),
		CalibrationFile:  cfg.GetCalibrationFile(),
		CalibrationCache: cfg.GetCalibrationCache(),
	}, nil
}
