// Package clearing implements the periodic batch-clearing engine: priority
// scoring of competing bids, the randomized tie break for near-ties, the
// atomic settlement of a listing, the per-market cycle state machine and the
// scheduler that drives every market on a fixed interval.
package clearing
