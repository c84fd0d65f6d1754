// Package capacity implements the storage engine's I/O capacity throttle: a
// lock-free, time-domain token bucket that caps the aggregate byte-rate of
// four writer/reader subsystems (checkpoint, eviction, log, read) against a
// configured total budget, while allowing brief, controlled borrowing of
// unused budget between subsystems.
//
// It also runs a background flush coordinator that asynchronously syncs
// accumulated unsynced bytes once they cross a configured threshold.
//
// The package treats everything around it — the Btree engine, session
// lifecycle, configuration parsing, and durability layer — as external
// collaborators reached through the Collaborators struct: a clock, a sleep
// primitive, a background fsync routine, and a verbose/stat sink. Callers
// own a *ConnectionCapacityState per storage handle and drive it through
// Configure, Throttle, and Close.
package capacity
