// Package volume estimates the solid volume of a splat point cloud.
//
// Pipeline: opacity density filter, statistical outlier removal over the
// K nearest neighbours, then the volume of the 3D convex hull.
//
// Geometric stages are best-effort. Outlier removal falls back to its input
// when the neighbour search cannot run, and hull failures on degenerate
// (coplanar, collinear, coincident) input yield a zero volume flagged as
// Degenerate rather than an error.
package volume
