// Package credential implements the issue, reveal, and reset operations
// over the local cache and the remote ledger.
package credential
