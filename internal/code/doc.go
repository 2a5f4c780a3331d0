// Package code generates the random access codes handed out to users.
package code
