// Package pipeline composes the decoder stages for one sensor stream.
//
// An Interpreter owns the calibration store, the packet decoder and the
// frame builder of a single sensor. It is the composition root: it imports
// calib, calibdb, parse and l2frames, and none of those packages import
// pipeline. The network listener drives it through the PacketSink
// interface.
package pipeline
