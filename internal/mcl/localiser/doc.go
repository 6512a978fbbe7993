// Package localiser drives the per-frame filter loop.
//
// Responsibilities: propagate the population through each frame's motion
// command, run the observation update when the command's translation passes
// the gating threshold (or on the first processed frame), resample only
// after an update that ran, estimate the pose and hand a FrameRecord to
// every Recorder.
// Key types: Localiser, Config, FrameRecord, Summary, Observer, Recorder.
//
// Dependency rule: localiser may import grid, geometry, particle, motion,
// resample, sensor and config. It must not import report, publish or db,
// which consume its records through the Recorder interface.
package localiser
