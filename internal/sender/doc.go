// Package sender runs one rate-limited queue ("lane") per recipient class and
// turns queued messages into transport sends.
//
// Lanes are independent: each has its own pacing, its own snapshot, and its
// own serial loop. Messages enqueued through Send survive a restart when
// storage is configured; work enqueued through Do does not.
package sender
