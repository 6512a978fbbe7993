// Package sensor implements the overlap-based observation model.
//
// Responsibilities: for one query frame, collect the distinct map cells
// occupied by in-bounds particles, request their overlaps (and yaw
// histograms when available) in one batched inference, multiply each
// particle's weight by its overlap and yaw-agreement terms, apply the
// one-shot convergence reduction, and normalise weights by their maximum.
// Key types: Config, Model, UpdateStats, Inferer.
//
// Dependency rule: sensor may import grid, geometry, particle, scorer and
// config. It must not import localiser, motion or resample.
package sensor
