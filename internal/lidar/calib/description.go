package calib

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// Description is the logical content of a calibration file. Angles are in
// degrees, lengths in metres.
type Description struct {
	Model              string             `yaml:"model"`
	Lasers             int                `yaml:"lasers,omitempty"` // declared count, optional
	DistanceResolution float64            `yaml:"distance_resolution,omitempty"`
	Corrections        []LaserDescription `yaml:"corrections"`
}

// LaserDescription is one per-laser entry of a Description.
type LaserDescription struct {
	ID                    int     `yaml:"id"`
	VertCorrection        float64 `yaml:"vert_correction"`
	RotCorrection         float64 `yaml:"rot_correction"`
	DistCorrection        float64 `yaml:"dist_correction"`
	DistCorrectionX       float64 `yaml:"dist_correction_x"`
	DistCorrectionY       float64 `yaml:"dist_correction_y"`
	VertOffsetCorrection  float64 `yaml:"vert_offset_correction"`
	HorizOffsetCorrection float64 `yaml:"horiz_offset_correction"`
	FocalDistance         float64 `yaml:"focal_distance"`
	FocalSlope            float64 `yaml:"focal_slope"`
	MinIntensity          int     `yaml:"min_intensity"`
	MaxIntensity          int     `yaml:"max_intensity"`
}

// csvColumns is the expected CSV header after the model row.
var csvColumns = []string{
	"id", "vert_correction", "rot_correction", "dist_correction",
	"dist_correction_x", "dist_correction_y", "vert_offset_correction",
	"horiz_offset_correction", "focal_distance", "focal_slope",
	"min_intensity", "max_intensity",
}

// ParseYAML decodes a YAML calibration description.
func ParseYAML(r io.Reader) (Description, error) {
	var desc Description
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return Description{}, fmt.Errorf("failed to parse calibration YAML: %w", err)
	}
	return desc, nil
}

// ParseCSV decodes a CSV calibration description. The first record is
// "model,<name>", the second the column header, then one row per laser.
func ParseCSV(r io.Reader) (Description, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Description{}, fmt.Errorf("failed to read calibration CSV: %w", err)
	}
	return parseCSVRecords(records)
}

func parseCSVRecords(records [][]string) (Description, error) {
	if len(records) < 3 {
		return Description{}, fmt.Errorf("insufficient data in calibration CSV")
	}

	if len(records[0]) != 2 || strings.ToLower(records[0][0]) != "model" {
		return Description{}, fmt.Errorf("invalid first row in calibration CSV, expected: model,<name>")
	}
	desc := Description{Model: records[0][1]}

	header := records[1]
	if len(header) != len(csvColumns) {
		return Description{}, fmt.Errorf("invalid header in calibration CSV, expected %d columns", len(csvColumns))
	}
	for i, col := range csvColumns {
		if strings.ToLower(strings.TrimSpace(header[i])) != col {
			return Description{}, fmt.Errorf("invalid header in calibration CSV: column %d is %q, expected %q", i+1, header[i], col)
		}
	}

	for i, record := range records[2:] {
		line := i + 3
		if len(record) != len(csvColumns) {
			return Description{}, fmt.Errorf("invalid record at line %d: expected %d fields", line, len(csvColumns))
		}

		id, err := strconv.Atoi(record[0])
		if err != nil {
			return Description{}, fmt.Errorf("invalid laser id at line %d: %v", line, err)
		}

		var floats [9]float64
		for j := range floats {
			floats[j], err = strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return Description{}, fmt.Errorf("invalid %s at line %d: %v", csvColumns[j+1], line, err)
			}
		}

		minI, err := strconv.Atoi(record[10])
		if err != nil {
			return Description{}, fmt.Errorf("invalid min_intensity at line %d: %v", line, err)
		}
		maxI, err := strconv.Atoi(record[11])
		if err != nil {
			return Description{}, fmt.Errorf("invalid max_intensity at line %d: %v", line, err)
		}

		desc.Corrections = append(desc.Corrections, LaserDescription{
			ID:                    id,
			VertCorrection:        floats[0],
			RotCorrection:         floats[1],
			DistCorrection:        floats[2],
			DistCorrectionX:       floats[3],
			DistCorrectionY:       floats[4],
			VertOffsetCorrection:  floats[5],
			HorizOffsetCorrection: floats[6],
			FocalDistance:         floats[7],
			FocalSlope:            floats[8],
			MinIntensity:          minI,
			MaxIntensity:          maxI,
		})
	}

	return desc, nil
}

// Build validates a description and produces a table. label names the
// description in errors.
func Build(desc Description, source Source, label string) (*Table, error) {
	model, err := lidar.ParseSensorModel(desc.Model)
	if err != nil {
		return nil, calibErrorf(label, err, "unsupported sensor")
	}

	want := model.Lasers()
	if desc.Lasers != 0 && desc.Lasers != want {
		return nil, calibErrorf(label, nil, "declared %d lasers but %s has %d", desc.Lasers, model, want)
	}
	if len(desc.Corrections) != want {
		return nil, calibErrorf(label, nil, "%d laser entries for %s, expected %d", len(desc.Corrections), model, want)
	}
	if desc.DistanceResolution < 0 || math.IsNaN(desc.DistanceResolution) {
		return nil, calibErrorf(label, nil, "invalid distance resolution %v", desc.DistanceResolution)
	}

	lasers := make([]LaserCorrection, want)
	seen := make([]bool, want)
	for _, ld := range desc.Corrections {
		if ld.ID < 0 || ld.ID >= want {
			return nil, calibErrorf(label, nil, "laser id %d out of range (0-%d)", ld.ID, want-1)
		}
		if seen[ld.ID] {
			return nil, calibErrorf(label, nil, "duplicate laser id %d", ld.ID)
		}
		seen[ld.ID] = true

		if err := checkFinite(ld); err != nil {
			return nil, calibErrorf(label, err, "laser %d", ld.ID)
		}
		if ld.MinIntensity < 0 || ld.MaxIntensity > 255 || ld.MinIntensity > ld.MaxIntensity {
			return nil, calibErrorf(label, nil, "laser %d: invalid intensity range [%d, %d]", ld.ID, ld.MinIntensity, ld.MaxIntensity)
		}

		lasers[ld.ID] = LaserCorrection{
			ID:                   ld.ID,
			VerticalCorrection:   ld.VertCorrection,
			RotationalCorrection: ld.RotCorrection,
			DistanceCorrection:   ld.DistCorrection,
			DistanceCorrectionX:  ld.DistCorrectionX,
			DistanceCorrectionY:  ld.DistCorrectionY,
			VerticalOffset:       ld.VertOffsetCorrection,
			HorizontalOffset:     ld.HorizOffsetCorrection,
			FocalDistance:        ld.FocalDistance,
			FocalSlope:           ld.FocalSlope,
			MinIntensity:         uint8(ld.MinIntensity),
			MaxIntensity:         uint8(ld.MaxIntensity),
		}
	}

	return newTable(model, source, desc.DistanceResolution, lasers), nil
}

func checkFinite(ld LaserDescription) error {
	vals := []float64{
		ld.VertCorrection, ld.RotCorrection, ld.DistCorrection, ld.DistCorrectionX,
		ld.DistCorrectionY, ld.VertOffsetCorrection, ld.HorizOffsetCorrection,
		ld.FocalDistance, ld.FocalSlope,
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value %v", v)
		}
	}
	return nil
}

// Describe converts a table back into its logical description.
func Describe(t *Table) Description {
	desc := Description{
		Model:              t.Model.String(),
		Lasers:             len(t.Lasers),
		DistanceResolution: t.DistanceResolution,
		Corrections:        make([]LaserDescription, len(t.Lasers)),
	}
	for i, c := range t.Lasers {
		desc.Corrections[i] = LaserDescription{
			ID:                    c.ID,
			VertCorrection:        c.VerticalCorrection,
			RotCorrection:         c.RotationalCorrection,
			DistCorrection:        c.DistanceCorrection,
			DistCorrectionX:       c.DistanceCorrectionX,
			DistCorrectionY:       c.DistanceCorrectionY,
			VertOffsetCorrection:  c.VerticalOffset,
			HorizOffsetCorrection: c.HorizontalOffset,
			FocalDistance:         c.FocalDistance,
			FocalSlope:            c.FocalSlope,
			MinIntensity:          int(c.MinIntensity),
			MaxIntensity:          int(c.MaxIntensity),
		}
	}
	return desc
}
