package lidar

import (
	"fmt"
	"strings"
	"time"
)

// Azimuth and angle units shared by every stage of the pipeline.
const (
	// AzimuthUnits is the number of discrete azimuth steps in one rotation
	// (hundredths of a degree).
	AzimuthUnits = 36000

	// MaxLasers is the largest laser count of any supported sensor.
	MaxLasers = 64
)

// SensorModel identifies a sensor variant. The numeric values are the
// sensor-type byte the sensor reports in the second factory field; HDL-64E
// does not report one and is identified by its firing block layout.
type SensorModel uint8

const (
	ModelUnknown    SensorModel = 0x00
	ModelHDL32E     SensorModel = 0x21
	ModelVLP16      SensorModel = 0x22
	ModelVLP32AB    SensorModel = 0x23
	ModelVLP16HiRes SensorModel = 0x24
	ModelVLP32C     SensorModel = 0x28
	ModelHDL64E     SensorModel = 0xA0
)

var modelNames = map[SensorModel]string{
	ModelHDL32E:     "HDL-32E",
	ModelVLP16:      "VLP-16",
	ModelVLP32AB:    "VLP-32AB",
	ModelVLP16HiRes: "VLP-16-HiRes",
	ModelVLP32C:     "VLP-32C",
	ModelHDL64E:     "HDL-64E",
}

func (m SensorModel) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(m))
}

// Lasers returns the number of lasers of the model, or 0 when unknown.
func (m SensorModel) Lasers() int {
	switch m {
	case ModelVLP16, ModelVLP16HiRes:
		return 16
	case ModelHDL32E, ModelVLP32AB, ModelVLP32C:
		return 32
	case ModelHDL64E:
		return 64
	default:
		return 0
	}
}

// Family groups models that share firing timing.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyHDL32
	FamilyVLP16
	FamilyVLP32
	FamilyHDL64
)

// Family returns the timing family of the model.
func (m SensorModel) Family() Family {
	switch m {
	case ModelHDL32E:
		return FamilyHDL32
	case ModelVLP16, ModelVLP16HiRes:
		return FamilyVLP16
	case ModelVLP32AB, ModelVLP32C:
		return FamilyVLP32
	case ModelHDL64E:
		return FamilyHDL64
	default:
		return FamilyUnknown
	}
}

// ParseSensorModel resolves a model name (case-insensitive, with or without
// dashes) as written in calibration descriptions.
func ParseSensorModel(name string) (SensorModel, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	for m, n := range modelNames {
		if strings.ToUpper(strings.ReplaceAll(n, "-", "")) == norm {
			return m, nil
		}
	}
	return ModelUnknown, fmt.Errorf("unrecognised sensor model %q", name)
}

// ReturnMode is the return mode byte reported in the first factory field.
type ReturnMode uint8

const (
	ReturnStrongest ReturnMode = 0x37
	ReturnLast      ReturnMode = 0x38
	ReturnDual      ReturnMode = 0x39
)

func (r ReturnMode) String() string {
	switch r {
	case ReturnStrongest:
		return "strongest"
	case ReturnLast:
		return "last"
	case ReturnDual:
		return "dual"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(r))
	}
}

// DualFlag marks how a point compares to the other return of its laser in
// dual-return mode. Distance and intensity pairs are independent.
type DualFlag uint8

const (
	DualDistanceNear  DualFlag = 0x1
	DualDistanceFar   DualFlag = 0x2
	DualIntensityHigh DualFlag = 0x4
	DualIntensityLow  DualFlag = 0x8
	DualDoubled       DualFlag = 0xF

	DualDistanceMask  DualFlag = 0x3
	DualIntensityMask DualFlag = 0xC
)

// Has reports whether all bits of f2 are set in f.
func (f DualFlag) Has(f2 DualFlag) bool { return f&f2 == f2 }

// DualReturnPolicy selects which returns of a dual pair survive.
type DualReturnPolicy int

const (
	DualKeepBoth DualReturnPolicy = iota
	DualKeepNearest
	DualKeepStrongest
)

// ParseDualReturnPolicy maps a configuration string to a policy.
func ParseDualReturnPolicy(s string) (DualReturnPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return DualKeepBoth, nil
	case "nearest", "near":
		return DualKeepNearest, nil
	case "strongest":
		return DualKeepStrongest, nil
	default:
		return DualKeepBoth, fmt.Errorf("unknown dual return policy %q (want nearest, strongest or both)", s)
	}
}

func (p DualReturnPolicy) String() string {
	switch p {
	case DualKeepNearest:
		return "nearest"
	case DualKeepStrongest:
		return "strongest"
	default:
		return "both"
	}
}

// Point is one calibrated laser return.
type Point struct {
	X, Y, Z       float64       // metres, sensor frame: X right, Y forward, Z up
	Intensity     uint8         // calibrated intensity
	LaserID       uint8         // laser index in the calibration table
	Azimuth       uint16        // hundredths of a degree, [0, 36000)
	DistanceRaw   uint16        // raw distance in sensor units
	Distance      float64       // corrected distance, metres
	VerticalAngle float64       // degrees
	Timestamp     time.Duration // since the top of the first observed hour
	RawTime       uint32        // packet time-of-hour, microseconds
	Flags         DualFlag
	DualPair      int // index of the other return of the pair, -1 when none
}
