// Package rotation owns the per-channel alias rotation workers.
//
// A Supervisor keeps one worker per (user, channel) key. Each worker loops
// forever: resolve the user's session, try up to MaxAttempts random
// candidates (base name + two [A-Za-z0-9] characters), announce the outcome,
// then sleep for the record's interval. Flood waits are slept off and the
// cycle restarts without counting against the candidate budget. Only
// cancellation ends a worker.
package rotation
