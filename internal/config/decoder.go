package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical decoder defaults file.
const DefaultConfigPath = "config/decoder.defaults.json"

// DecoderConfig holds the options of one sensor interpreter. Every field is
// optional; the Get* methods supply the default for fields left out of the
// JSON, so partial configs are safe.
type DecoderConfig struct {
	SensorID *string `json:"sensor_id,omitempty"`

	// Decode params
	FiringSkip            *int  `json:"firing_skip,omitempty"`
	IntensityCorrection   *bool `json:"intensity_correction,omitempty"`
	IntraFiringAdjustment *bool `json:"intra_firing_adjustment,omitempty"`
	CheckSensor           *bool `json:"check_sensor,omitempty"`
	KeepZeroDistances     *bool `json:"keep_zero_distances,omitempty"`

	// Framing params, angles in degrees
	DualReturnFilter     *string  `json:"dual_return_filter,omitempty"` // nearest, strongest or both
	FrameSplitAzimuth    *float64 `json:"frame_split_azimuth,omitempty"`
	AzimuthWrapTolerance *float64 `json:"azimuth_wrap_tolerance,omitempty"`

	// Spin rate params
	RPMWindow  *int     `json:"rpm_window,omitempty"`
	RPMMaxGap  *string  `json:"rpm_max_gap,omitempty"` // duration string like "100ms"
	MinSpinRPM *float64 `json:"min_spin_rpm,omitempty"`

	// Calibration params
	CalibrationFile  *string `json:"calibration_file,omitempty"`
	CalibrationCache *string `json:"calibration_cache,omitempty"` // sqlite path for live tables
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyDecoderConfig returns a DecoderConfig with all fields set to nil.
func EmptyDecoderConfig() *DecoderConfig {
	return &DecoderConfig{}
}

// DefaultDecoderConfig returns a DecoderConfig with every field set to its
// default. It matches DefaultConfigPath.
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		SensorID:              ptrString("hdl-01"),
		FiringSkip:            ptrInt(0),
		IntensityCorrection:   ptrBool(false),
		IntraFiringAdjustment: ptrBool(true),
		CheckSensor:           ptrBool(true),
		KeepZeroDistances:     ptrBool(false),
		DualReturnFilter:      ptrString("both"),
		FrameSplitAzimuth:     ptrFloat64(0),
		AzimuthWrapTolerance:  ptrFloat64(1),
		RPMWindow:             ptrInt(32),
		RPMMaxGap:             ptrString("100ms"),
		MinSpinRPM:            ptrFloat64(60),
		CalibrationFile:       ptrString(""),
		CalibrationCache:      ptrString(""),
	}
}

// LoadDecoderConfig loads a DecoderConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadDecoderConfig(path string) (*DecoderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDecoderConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *DecoderConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadDecoderConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *DecoderConfig) Validate() error {
	if c.FiringSkip != nil && *c.FiringSkip < 0 {
		return fmt.Errorf("firing_skip must be non-negative, got %d", *c.FiringSkip)
	}

	if c.DualReturnFilter != nil {
		switch strings.ToLower(*c.DualReturnFilter) {
		case "", "both", "nearest", "near", "strongest":
		default:
			return fmt.Errorf("dual_return_filter must be nearest, strongest or both, got %q", *c.DualReturnFilter)
		}
	}

	if c.FrameSplitAzimuth != nil {
		if *c.FrameSplitAzimuth < 0 || *c.FrameSplitAzimuth >= 360 {
			return fmt.Errorf("frame_split_azimuth must be in [0, 360), got %f", *c.FrameSplitAzimuth)
		}
	}

	if c.AzimuthWrapTolerance != nil {
		// Below 0.005 the tolerance rounds to zero hundredths, which the
		// decoder reads as "use the default".
		if *c.AzimuthWrapTolerance < 0.005 || *c.AzimuthWrapTolerance >= 180 {
			return fmt.Errorf("azimuth_wrap_tolerance must be in [0.01, 180), got %f", *c.AzimuthWrapTolerance)
		}
	}

	if c.RPMWindow != nil && *c.RPMWindow < 3 {
		return fmt.Errorf("rpm_window must be at least 3, got %d", *c.RPMWindow)
	}

	if c.RPMMaxGap != nil && *c.RPMMaxGap != "" {
		d, err := time.ParseDuration(*c.RPMMaxGap)
		if err != nil {
			return fmt.Errorf("invalid rpm_max_gap '%s': %w", *c.RPMMaxGap, err)
		}
		if d <= 0 {
			return fmt.Errorf("rpm_max_gap must be positive, got %v", d)
		}
	}

	if c.MinSpinRPM != nil && *c.MinSpinRPM < 0 {
		return fmt.Errorf("min_spin_rpm must be non-negative, got %f", *c.MinSpinRPM)
	}

	return nil
}

// GetSensorID returns the sensor_id value or the default.
func (c *DecoderConfig) GetSensorID() string {
	if c.SensorID == nil || *c.SensorID == "" {
		return "hdl-01"
	}
	return *c.SensorID
}

// GetFiringSkip returns the firing_skip value or the default.
func (c *DecoderConfig) GetFiringSkip() int {
	if c.FiringSkip == nil {
		return 0
	}
	return *c.FiringSkip
}

// GetIntensityCorrection returns the intensity_correction value or the default.
func (c *DecoderConfig) GetIntensityCorrection() bool {
	if c.IntensityCorrection == nil {
		return false
	}
	return *c.IntensityCorrection
}

// GetIntraFiringAdjustment returns the intra_firing_adjustment value or the default.
func (c *DecoderConfig) GetIntraFiringAdjustment() bool {
	if c.IntraFiringAdjustment == nil {
		return true
	}
	return *c.IntraFiringAdjustment
}

// GetCheckSensor returns the check_sensor value or the default.
func (c *DecoderConfig) GetCheckSensor() bool {
	if c.CheckSensor == nil {
		return true
	}
	return *c.CheckSensor
}

// GetKeepZeroDistances returns the keep_zero_distances value or the default.
func (c *DecoderConfig) GetKeepZeroDistances() bool {
	if c.KeepZeroDistances == nil {
		return false
	}
	return *c.KeepZeroDistances
}

// GetDualReturnFilter returns the dual_return_filter value or the default.
func (c *DecoderConfig) GetDualReturnFilter() string {
	if c.DualReturnFilter == nil || *c.DualReturnFilter == "" {
		return "both"
	}
	return *c.DualReturnFilter
}

// GetFrameSplitAzimuth returns the split angle in hundredths of a degree.
func (c *DecoderConfig) GetFrameSplitAzimuth() uint16 {
	if c.FrameSplitAzimuth == nil {
		return 0
	}
	return uint16(*c.FrameSplitAzimuth*100+0.5) % 36000
}

// GetAzimuthWrapTolerance returns the wrap tolerance in hundredths of a degree.
func (c *DecoderConfig) GetAzimuthWrapTolerance() uint16 {
	if c.AzimuthWrapTolerance == nil {
		return 100
	}
	return uint16(*c.AzimuthWrapTolerance*100 + 0.5)
}

// GetRPMWindow returns the rpm_window value or the default.
func (c *DecoderConfig) GetRPMWindow() int {
	if c.RPMWindow == nil {
		return 32
	}
	return *c.RPMWindow
}

// GetRPMMaxGap parses and returns the RPMMaxGap as a time.Duration.
func (c *DecoderConfig) GetRPMMaxGap() time.Duration {
	if c.RPMMaxGap == nil || *c.RPMMaxGap == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.RPMMaxGap)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetMinSpinRPM returns the min_spin_rpm value or the default.
func (c *DecoderConfig) GetMinSpinRPM() float64 {
	if c.MinSpinRPM == nil {
		return 60
	}
	return *c.MinSpinRPM
}

// GetCalibrationFile returns the calibration_file value, empty when unset.
func (c *DecoderConfig) GetCalibrationFile() string {
	if c.CalibrationFile == nil {
		return ""
	}
	return *c.CalibrationFile
}

// GetCalibrationCache returns the calibration_cache value, empty when unset.
func (c *DecoderConfig) GetCalibrationCache() string {
	if c.CalibrationCache == nil {
		return ""
	}
	return *c.CalibrationCache
}
