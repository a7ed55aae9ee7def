package calib

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

func testDescription(model string, n int) Description {
	desc := Description{Model: model}
	for i := 0; i < n; i++ {
		desc.Corrections = append(desc.Corrections, LaserDescription{
			ID:             i,
			VertCorrection: float64(i) - float64(n)/2,
			RotCorrection:  0.5,
			DistCorrection: 0.01,
			MinIntensity:   0,
			MaxIntensity:   255,
		})
	}
	return desc
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuild_PrecomputesTrig(t *testing.T) {
	table, err := Build(testDescription("VLP-16", 16), SourceFile, "test")
	require.NoError(t, err)
	require.Equal(t, 16, table.NumLasers())
	assert.True(t, table.Complete)
	assert.Equal(t, DefaultDistanceResolution, table.DistanceResolution)

	for _, c := range table.Lasers {
		v := c.VerticalCorrection * math.Pi / 180
		assert.InDelta(t, math.Sin(v), c.SinVertical, 1e-12)
		assert.InDelta(t, math.Cos(v), c.CosVertical, 1e-12)
		r := c.RotationalCorrection * math.Pi / 180
		assert.InDelta(t, math.Sin(r), c.SinRotational, 1e-12)
		assert.InDelta(t, math.Cos(r), c.CosRotational, 1e-12)
	}
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Description)
	}{
		{"unknown model", func(d *Description) { d.Model = "HDL-128" }},
		{"declared count mismatch", func(d *Description) { d.Lasers = 32 }},
		{"missing entry", func(d *Description) { d.Corrections = d.Corrections[:15] }},
		{"duplicate id", func(d *Description) { d.Corrections[3].ID = 2 }},
		{"id out of range", func(d *Description) { d.Corrections[15].ID = 16 }},
		{"negative resolution", func(d *Description) { d.DistanceResolution = -1 }},
		{"non-finite", func(d *Description) { d.Corrections[0].FocalSlope = math.Inf(1) }},
		{"inverted intensity", func(d *Description) { d.Corrections[0].MinIntensity = 200; d.Corrections[0].MaxIntensity = 10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := testDescription("VLP-16", 16)
			tt.mutate(&desc)
			_, err := Build(desc, SourceFile, "test")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCalibration), "error should wrap ErrCalibration: %v", err)
		})
	}
}

func TestParseCSV(t *testing.T) {
	csvData := "model,VLP-16\n" +
		"id,vert_correction,rot_correction,dist_correction,dist_correction_x,dist_correction_y,vert_offset_correction,horiz_offset_correction,focal_distance,focal_slope,min_intensity,max_intensity\n" +
		"0,-15,0.1,0.02,0,0,0,0.004,0,0,0,255\n"
	desc, err := ParseCSV(strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, "VLP-16", desc.Model)
	require.Len(t, desc.Corrections, 1)
	assert.Equal(t, -15.0, desc.Corrections[0].VertCorrection)
	assert.Equal(t, 0.004, desc.Corrections[0].HorizOffsetCorrection)
	assert.Equal(t, 255, desc.Corrections[0].MaxIntensity)
}

func TestParseCSV_BadHeader(t *testing.T) {
	tests := map[string]string{
		"no model row":   "id,vert_correction\n0,1\n0,1\n",
		"short header":   "model,VLP-16\nid,vert_correction\n0,1\n",
		"renamed column": "model,VLP-16\nid,vertical,rot_correction,dist_correction,dist_correction_x,dist_correction_y,vert_offset_correction,horiz_offset_correction,focal_distance,focal_slope,min_intensity,max_intensity\n0,0,0,0,0,0,0,0,0,0,0,255\n",
		"bad number":     "model,VLP-16\nid,vert_correction,rot_correction,dist_correction,dist_correction_x,dist_correction_y,vert_offset_correction,horiz_offset_correction,focal_distance,focal_slope,min_intensity,max_intensity\n0,abc,0,0,0,0,0,0,0,0,0,255\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(data)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestParseYAML_UnknownField(t *testing.T) {
	_, err := ParseYAML(strings.NewReader("model: VLP-16\nlaserz: 16\n"))
	assert.Error(t, err)
}

func TestDefaultTables(t *testing.T) {
	for _, model := range []lidar.SensorModel{lidar.ModelVLP16, lidar.ModelHDL32E, lidar.ModelVLP32C} {
		t.Run(model.String(), func(t *testing.T) {
			table, err := DefaultTable(model)
			require.NoError(t, err)
			assert.Equal(t, model, table.Model)
			assert.Equal(t, SourceDefault, table.Source)
			assert.Equal(t, model.Lasers(), table.NumLasers())
		})
	}

	_, err := DefaultTable(lidar.ModelHDL64E)
	assert.ErrorIs(t, err, ErrCalibration)
}

func TestDescribe_RoundTripsThroughBuild(t *testing.T) {
	table, err := DefaultTable(lidar.ModelVLP32C)
	require.NoError(t, err)

	again, err := Build(Describe(table), SourceFile, "describe")
	require.NoError(t, err)
	assert.Equal(t, table.Lasers, again.Lasers)
}

func TestStore_LoadFromFileYAMLAndCSV(t *testing.T) {
	yamlPath := writeFile(t, "hdl32.yaml", "model: HDL-32E\nlasers: 32\ncorrections:\n"+yamlCorrections(32))
	store := NewStore()
	require.NoError(t, store.LoadFromFile(yamlPath))
	require.NotNil(t, store.Table())
	assert.Equal(t, lidar.ModelHDL32E, store.Table().Model)
	assert.Equal(t, SourceFile, store.Table().Source)

	var b strings.Builder
	b.WriteString("model,VLP-16\n")
	b.WriteString(strings.Join(csvColumns, ",") + "\n")
	for i := 0; i < 16; i++ {
		b.WriteString(strings.Join([]string{strconv.Itoa(i), "1.5", "0", "0", "0", "0", "0", "0", "0", "0", "0", "255"}, ",") + "\n")
	}
	csvPath := writeFile(t, "vlp16.csv", b.String())
	require.NoError(t, store.LoadFromFile(csvPath))
	assert.Equal(t, lidar.ModelVLP16, store.Table().Model)
}

func TestStore_LoadFromFileRejectsUnsupported(t *testing.T) {
	store := NewStore()
	path := writeFile(t, "calib.xml", "<db/>")
	err := store.LoadFromFile(path)
	require.ErrorIs(t, err, ErrCalibration)

	err = store.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrCalibration)
	assert.Nil(t, store.Table())
}

// A 16-laser description must not replace a table while the stream reports
// a 32-laser sensor.
func TestStore_LaserCountMismatchKeepsPriorTable(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.LoadDefault(lidar.ModelHDL32E))
	prior := store.Table()

	store.CheckSensorConsistency(lidar.ModelHDL32E, uint8(lidar.ReturnStrongest), uint8(lidar.ModelHDL32E))

	err := store.Load(testDescription("VLP-16", 16))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCalibration))
	var calErr *Error
	require.True(t, errors.As(err, &calErr))
	assert.Contains(t, calErr.Reason, "32")
	assert.Same(t, prior, store.Table())

	// A matching description is still accepted.
	require.NoError(t, store.Load(testDescription("HDL-32E", 32)))
	assert.NotSame(t, prior, store.Table())
}

func TestStore_CheckSensorConsistencyWarnsOnce(t *testing.T) {
	var logs strings.Builder
	lidar.SetLogWriters(lidar.LogWriters{Ops: &logs})
	defer lidar.SetLogWriters(lidar.LogWriters{})

	store := NewStore()
	require.NoError(t, store.LoadDefault(lidar.ModelVLP16))

	assert.True(t, store.CheckSensorConsistency(lidar.ModelVLP16, 0x37, 0x22))
	for i := 0; i < 5; i++ {
		assert.False(t, store.CheckSensorConsistency(lidar.ModelHDL32E, 0x37, 0x21))
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "does not match"))

	store.Reset()
	assert.Nil(t, store.Table())
	assert.Equal(t, lidar.ModelUnknown, store.ReportedModel())
}

func TestStore_CheckSensorConsistencyComparesFamily(t *testing.T) {
	var logs strings.Builder
	lidar.SetLogWriters(lidar.LogWriters{Ops: &logs})
	defer lidar.SetLogWriters(lidar.LogWriters{})

	store := NewStore()
	require.NoError(t, store.LoadDefault(lidar.ModelHDL32E))

	assert.False(t, store.CheckSensorConsistency(lidar.ModelVLP32C, 0x37, 0x28))
	assert.Contains(t, logs.String(), "calibration is for HDL-32E")
	assert.True(t, store.CheckSensorConsistency(lidar.ModelHDL32E, 0x37, 0x21))

	// VLP-32A/B and VLP-32C share a family.
	vlp := NewStore()
	require.NoError(t, vlp.LoadDefault(lidar.ModelVLP32C))
	assert.True(t, vlp.CheckSensorConsistency(lidar.ModelVLP32AB, 0x37, 0x23))
}

func TestStore_LiveRefusedOverFile(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Load(testDescription("HDL-64E", 64)))

	acc, err := NewAccumulator(lidar.ModelHDL64E)
	require.NoError(t, err)
	for id := 0; id < 64; id++ {
		acc.AddSlice(EncodeSlice(LaserCorrection{ID: id}))
	}
	require.True(t, acc.Complete())
	assert.ErrorIs(t, store.Install(acc.Table()), ErrCalibration)
	assert.Equal(t, SourceFile, store.Table().Source)
}

func yamlCorrections(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("  - id: " + strconv.Itoa(i) + "\n    vert_correction: -10.5\n    max_intensity: 255\n")
	}
	return b.String()
}
