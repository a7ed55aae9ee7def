// Package l2frames groups decoded points into rotation frames.
//
// A Builder receives the decoder output, detects the split azimuth
// crossing, estimates the spin rate and seals one Frame per rotation.
// Frames store their points column-wise and are immutable once sealed.
package l2frames
