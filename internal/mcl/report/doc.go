// Package report turns a run's frame records into artefacts: a trajectory
// plot (PNG via gonum/plot), a localisation-error plot and a GeoJSON
// export of the estimated and true trajectories in local metric
// coordinates.
//
// Dependency rule: report may import localiser, grid, particle and fsutil.
// Nothing in internal/mcl imports report.
package report
