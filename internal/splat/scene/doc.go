// Package scene reads Gaussian-splat scene files: a line-oriented ASCII
// PLY header followed by a little-endian float32 payload.
//
// Responsibilities: header parsing (vertex count, header length, declared
// properties), row-width resolution, and per-column decoding of splat
// attributes (SH-DC colour, logistic opacity, log-scale, quaternion).
// Key types: Header, Layout, Scene, Splat, PointCloud.
//
// Decoding never mutates the input buffer. Every decoded slice is freshly
// allocated so later stages can hold it as an immutable value.
package scene
