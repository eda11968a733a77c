// Package queue implements a paced, serial work queue for outbound traffic.
//
// A Queue admits one job at a time. Before each job it waits for the latest
// of two slots, the minimum spacing since the previous start and the sliding
// window cap on completions, then adds random jitter and, occasionally, a
// long pause so the resulting timing does not look machine-generated.
//
// # Jobs
//
// A job is either a Callback, which carries its own function and lives only
// in memory, or Data, an opaque JSON payload handed to the queue's shared
// Processor. Only Data jobs are written to the snapshot store, so only they
// survive a restart.
//
// # Durability
//
// With a store configured, the full list of pending Data jobs is rewritten
// after every enqueue and after every attempt. The head job is removed only
// once its attempt has finished (success or failure), so a process that dies
// mid-attempt replays that job on the next start. Jobs that were attempted
// and removed before a crash are not replayed, even if they failed.
package queue
