// Package ledger reads and writes the authoritative user-to-code records,
// stored as a plain text file in a remote GitHub repository and updated
// with optimistic concurrency on the file's blob SHA.
package ledger
