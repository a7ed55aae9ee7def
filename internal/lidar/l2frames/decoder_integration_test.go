package l2frames_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/calib"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/parse"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/trig"
	"github.com/banshee-data/velodyne.hdl/internal/testutil"
)

// A VLP-16 stream turning at 600 rpm: 30 hundredths of a degree per block,
// 12 blocks per packet, one packet per millisecond, 100 packets per turn.
const (
	blockStep      = 30
	usPerPacket    = 1000
	pointsPerBlock = 32
	packetsPerTurn = 100
)

// sealed collects frames delivered by a builder callback, including those
// sealed after decodeStream returns.
type sealed struct {
	frames []*l2frames.Frame
}

func (s *sealed) add(f *l2frames.Frame) { s.frames = append(s.frames, f) }

func decodeStream(t *testing.T, cfg l2frames.Config, packets [][]byte) (*sealed, *l2frames.Builder, int) {
	t.Helper()
	store := calib.NewStore()
	require.NoError(t, store.LoadDefault(lidar.ModelVLP16))

	got := &sealed{}
	cfg.Callback = got.add
	b := l2frames.NewBuilder(cfg)
	dec := parse.NewDecoder(trig.New(), store, parse.Options{})

	splits := 0
	for _, pkt := range packets {
		res, err := dec.ProcessPacket(pkt, 0, b)
		require.NoError(t, err)
		splits += res.Splits
	}
	return got, b, splits
}

func TestDecodedStream_OneFramePerRotation(t *testing.T) {
	packets := testutil.RotationStream(250, 0, blockStep, usPerPacket, 0x37, 0x22, 500, 10)
	got, b, splits := decodeStream(t, l2frames.Config{SensorID: "vlp"}, packets)

	assert.Equal(t, 2, splits)
	require.Len(t, got.frames, 2)
	perTurn := packetsPerTurn * testutil.FiringBlocks * pointsPerBlock
	for i, f := range got.frames {
		assert.Equal(t, perTurn, f.Len(), "frame %d", i)
		assert.Equal(t, uint64(i), f.Sequence)
		assert.Equal(t, lidar.ModelVLP16, f.Model)
		assert.Equal(t, 16, f.Lasers)
	}

	// Every azimuth of the second frame lies in one rotation starting at 0.
	cols := got.frames[1].Columns()
	assert.Equal(t, uint16(0), cols.Azimuth[0])

	// The tail is released by a forced split and holds exactly the points
	// decoded since the last boundary.
	tail := 50 * testutil.FiringBlocks * pointsPerBlock
	assert.Equal(t, tail, b.Pending())
	require.True(t, b.SplitFrame(true))
	require.Len(t, got.frames, 3)
	assert.Equal(t, tail, got.frames[2].Len())
	assert.Equal(t, l2frames.SealForced, got.frames[2].Reason)
}

func TestDecodedStream_RPMWithinOnePercent(t *testing.T) {
	packets := testutil.RotationStream(250, 0, blockStep, usPerPacket, 0x37, 0x22, 500, 10)
	got, b, _ := decodeStream(t, l2frames.Config{SensorID: "vlp"}, packets)

	require.NotEmpty(t, got.frames)
	for _, f := range got.frames {
		assert.InEpsilon(t, 600, f.RPM, 0.01)
	}
	assert.InEpsilon(t, 600, b.RPM(), 0.01)
}

func TestDecodedStream_SplitAzimuth(t *testing.T) {
	packets := testutil.RotationStream(250, 0, blockStep, usPerPacket, 0x37, 0x22, 500, 10)
	got, _, splits := decodeStream(t, l2frames.Config{SensorID: "vlp", SplitAzimuth: 18000}, packets)

	assert.Equal(t, 2, splits)
	require.Len(t, got.frames, 2)
	assert.Equal(t, 50*testutil.FiringBlocks*pointsPerBlock, got.frames[0].Len())
	assert.Equal(t, packetsPerTurn*testutil.FiringBlocks*pointsPerBlock, got.frames[1].Len())
	assert.Equal(t, uint16(18000), got.frames[1].Columns().Azimuth[0])
}

func TestDecodedStream_FiringSkipKeepsFraming(t *testing.T) {
	store := calib.NewStore()
	require.NoError(t, store.LoadDefault(lidar.ModelVLP16))
	b := l2frames.NewBuilder(l2frames.Config{SensorID: "vlp"})
	dec := parse.NewDecoder(trig.New(), store, parse.Options{FiringSkip: 1})

	splits := 0
	for _, pkt := range testutil.RotationStream(150, 0, blockStep, usPerPacket, 0x37, 0x22, 500, 10) {
		res, err := dec.ProcessPacket(pkt, 0, b)
		require.NoError(t, err)
		splits += res.Splits
	}
	assert.Equal(t, 1, splits)
	frames := b.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, packetsPerTurn*testutil.FiringBlocks/2*pointsPerBlock, frames[0].Len())
	assert.InEpsilon(t, 600, frames[0].RPM, 0.01)
}
