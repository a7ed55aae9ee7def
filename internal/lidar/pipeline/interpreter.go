package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/calib"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/calibdb"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/parse"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/trig"
	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// Interpreter turns the packet stream of one sensor into frames. Calls must
// be made from a single goroutine in packet arrival order; frames are
// delivered synchronously from ProcessPacket and SplitFrame.
type Interpreter struct {
	opts Options

	store   *calib.Store
	decoder *parse.Decoder
	builder *l2frames.Builder
	metrics *monitoring.SensorMetrics
	cache   *calibdb.CalibDB

	assembler *calib.SliceAssembler
	live      *calib.Accumulator

	sealed uint64
	queued []*l2frames.Frame
}

// New builds an interpreter. A calibration file or a cached live table is
// installed before the first packet when configured.
func New(opts Options) (*Interpreter, error) {
	if opts.SessionID == uuid.Nil {
		opts.SessionID = uuid.New()
	}
	if opts.Trig == nil {
		opts.Trig = trig.New()
	}

	it := &Interpreter{
		opts:      opts,
		store:     calib.NewStore(),
		metrics:   opts.Metrics.ForSensor(opts.SensorID),
		assembler: calib.NewSliceAssembler(),
	}
	it.decoder = parse.NewDecoder(opts.Trig, it.store, opts.Decoder)
	it.builder = l2frames.NewBuilder(l2frames.Config{
		SensorID:      opts.SensorID,
		SessionID:     opts.SessionID,
		Callback:      it.deliver,
		SplitAzimuth:  opts.Decoder.SplitAzimuth,
		WrapTolerance: opts.Decoder.WrapTolerance,
		DualPolicy:    opts.DualPolicy,
		RPMWindow:     opts.RPMWindow,
		RPMMaxGap:     opts.RPMMaxGap,
		MinSpinRPM:    opts.MinSpinRPM,
	})

	if opts.CalibrationCache != "" {
		db, err := calibdb.NewCalibDB(opts.CalibrationCache)
		if err != nil {
			return nil, fmt.Errorf("failed to open calibration cache: %w", err)
		}
		it.cache = db
	}

	if opts.CalibrationFile != "" {
		if err := it.store.LoadFromFile(opts.CalibrationFile); err != nil {
			it.Close()
			return nil, err
		}
	} else if it.cache != nil {
		it.restoreCachedTable()
	}

	l2frames.RegisterBuilder(opts.SensorID, it.builder)
	lidar.Diagf("interpreter %s started, session %s", opts.SensorID, opts.SessionID)
	return it, nil
}

func (it *Interpreter) restoreCachedTable() {
	t, err := it.cache.LoadTable(it.opts.SensorID)
	switch {
	case errors.Is(err, calibdb.ErrNotFound):
		return
	case err != nil:
		lidar.Opsf("ignoring cached calibration for %s: %v", it.opts.SensorID, err)
		return
	}
	if err := it.store.Install(t); err != nil {
		lidar.Opsf("ignoring cached calibration for %s: %v", it.opts.SensorID, err)
	}
}

// deliver is the builder callback.
func (it *Interpreter) deliver(f *l2frames.Frame) {
	it.sealed++
	if it.metrics != nil {
		it.metrics.Frames.Inc()
	}
	if it.opts.OnFrame != nil {
		it.opts.OnFrame(f)
		return
	}
	it.queued = append(it.queued, f)
}

// IsLidarPacket reports whether buf has the layout of a data packet.
func (it *Interpreter) IsLidarPacket(buf []byte) bool {
	return parse.IsLidarPacket(buf)
}

// ProcessPacket decodes a whole data packet.
func (it *Interpreter) ProcessPacket(buf []byte) (parse.Result, error) {
	return it.ProcessPacketFrom(buf, 0)
}

// ProcessPacketFrom decodes buf from firing block startBlock on, typically
// the block PreProcessPacket located.
func (it *Interpreter) ProcessPacketFrom(buf []byte, startBlock int) (parse.Result, error) {
	res, err := it.decoder.ProcessPacket(buf, startBlock, it.builder)
	if err != nil {
		if it.metrics != nil {
			it.metrics.PacketsRejected.Inc()
		}
		return res, err
	}

	if res.Header.HDL64 {
		it.observeStatus(res.Header)
	}

	if it.metrics != nil {
		it.metrics.Packets.Inc()
		it.metrics.Points.Add(float64(res.Points))
		it.metrics.DroppedBlocks.Add(float64(res.DroppedBlocks))
		it.metrics.RPM.Set(it.builder.RPM())
	}
	return res, nil
}

// observeStatus feeds the HDL-64E status bytes to live calibration.
func (it *Interpreter) observeStatus(h parse.Header) {
	if t := it.store.Table(); t != nil && t.Source != calib.SourceDefault {
		return
	}

	s, ok := it.assembler.Add(h.Factory1, h.Factory2)
	if !ok {
		return
	}
	if it.live == nil {
		acc, err := calib.NewAccumulator(lidar.ModelHDL64E)
		if err != nil {
			lidar.Opsf("live calibration unavailable: %v", err)
			return
		}
		it.live = acc
		it.seedFromCache()
	}

	before, _ := it.live.Progress()
	done := it.live.AddSlice(s)
	if after, _ := it.live.Progress(); after > before && it.cache != nil {
		if err := it.cache.SaveSlice(it.opts.SensorID, lidar.ModelHDL64E, s); err != nil {
			lidar.Opsf("calibration cache: %v", err)
		}
	}
	if done {
		it.installLive()
	}
}

// seedFromCache resumes a live calibration from slices cached by an
// earlier session.
func (it *Interpreter) seedFromCache() {
	if it.cache == nil {
		return
	}
	model, slices, err := it.cache.LoadSlices(it.opts.SensorID)
	if err != nil {
		lidar.Opsf("calibration cache: %v", err)
		return
	}
	if model != lidar.ModelHDL64E {
		return
	}
	for _, s := range slices {
		it.live.AddSlice(s)
	}
	received, total := it.live.Progress()
	lidar.Diagf("live calibration resumed from cache: %d/%d lasers", received, total)
	if it.live.Complete() {
		it.installLive()
	}
}

func (it *Interpreter) installLive() {
	t := it.live.Table()
	if err := it.store.Install(t); err != nil {
		lidar.Opsf("live calibration not installed: %v", err)
		return
	}
	if it.cache != nil {
		if err := it.cache.SaveTable(it.opts.SensorID, t); err != nil {
			lidar.Opsf("calibration cache: %v", err)
		}
	}
}

// PreProcessPacket locates a rotation boundary in buf without decoding it.
func (it *Interpreter) PreProcessPacket(buf []byte) (parse.PreScan, error) {
	return it.decoder.PreProcessPacket(buf)
}

// SplitFrame closes the open frame; see l2frames.Builder.SplitFrame.
func (it *Interpreter) SplitFrame(force bool) bool {
	return it.builder.SplitFrame(force)
}

// LoadCalibration installs a YAML or CSV calibration description. A file
// table takes precedence over live calibration.
func (it *Interpreter) LoadCalibration(path string) error {
	return it.store.LoadFromFile(path)
}

// LoadDescription installs an in-memory calibration description.
func (it *Interpreter) LoadDescription(desc calib.Description) error {
	return it.store.Load(desc)
}

// LoadDefaultCalibration installs the embedded table for model.
func (it *Interpreter) LoadDefaultCalibration(model lidar.SensorModel) error {
	return it.store.LoadDefault(model)
}

// LiveProgress reports live calibration progress. Total is zero before the
// first status record has arrived.
func (it *Interpreter) LiveProgress() (received, total int) {
	if it.live == nil {
		return 0, 0
	}
	return it.live.Progress()
}

// Frames returns and clears the frames queued while no OnFrame callback
// is set.
func (it *Interpreter) Frames() []*l2frames.Frame {
	out := it.queued
	it.queued = nil
	return out
}

// Reset prepares for a reconnected sensor: the packet clock, the open
// frame, rotation history and partial live records are discarded. The
// installed calibration is kept.
func (it *Interpreter) Reset() {
	it.decoder.Reset()
	it.builder.Reset()
	it.assembler.Reset()
	it.queued = nil
}

// ResetCalibration forgets the installed table and any live progress.
func (it *Interpreter) ResetCalibration() {
	it.store.Reset()
	it.assembler.Reset()
	if it.live != nil {
		it.live.Reset()
	}
}

// Store returns the calibration store.
func (it *Interpreter) Store() *calib.Store { return it.store }

// FramesSealed returns the number of frames delivered so far.
func (it *Interpreter) FramesSealed() uint64 { return it.sealed }

// RPM returns the current spin rate estimate.
func (it *Interpreter) RPM() float64 { return it.builder.RPM() }

// SessionID returns the session stamped on every frame.
func (it *Interpreter) SessionID() uuid.UUID { return it.opts.SessionID }

// Close releases the calibration cache and the builder registration.
func (it *Interpreter) Close() error {
	if l2frames.GetBuilder(it.opts.SensorID) == it.builder {
		l2frames.UnregisterBuilder(it.opts.SensorID)
	}
	if it.cache == nil {
		return nil
	}
	err := it.cache.Close()
	it.cache = nil
	return err
}
