// Package panel keeps exactly one interactive control panel alive in the
// configured channel, reposting it after deletion or expiry.
package panel
