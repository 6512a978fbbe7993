// Package scorer turns (query frame, map cells) requests into overlap
// scores and optional yaw histograms.
//
// Responsibilities: the Scorer contract and capability negotiation, the
// batched client that resolves volumes through the cache and chunks them
// for the scorer, a local cosine-similarity scorer, and a gRPC transport
// for remote scorers and extractors.
// Key types: Scorer, Capabilities, Result, BatchClient, CosineScorer,
// GRPCScorer, GRPCExtractor.
//
// Dependency rule: scorer may import volume and grid. It must not import
// sensor or localiser.
package scorer
