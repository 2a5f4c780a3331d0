// Package cooldown enforces per-user minimum intervals between repeated
// invocations of the same panel action.
package cooldown
