// Package cache provides the in-process user-to-code cache that fronts the
// remote ledger for low-latency reads.
package cache
