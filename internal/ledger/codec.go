// ABOUTME: Line-level codec for the ledger file format.
// ABOUTME: One record per line: "<code> [<decimal user id>]".

package ledger

import (
	"fmt"
	"strings"
)

// FormatLine renders one ledger record. The format is load-bearing: existing
// ledger files written by earlier deployments must keep parsing, so the
// rendering is exactly "<code><space>[<id>]" with the id in decimal.
func FormatLine(userID int64, code string) string {
	return fmt.Sprintf("%s [%d]", code, userID)
}

// userMarker is the substring that identifies a user's line.
func userMarker(userID int64) string {
	return fmt.Sprintf("[%d]", userID)
}

// findCode scans the file body for the given user's record and returns its
// code. The code is the first space-delimited token of the matching line.
func findCode(content string, userID int64) (string, bool) {
	marker := userMarker(userID)
	for _, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		if len(parts) > 0 && parts[0] != "" {
			return parts[0], true
		}
	}
	return "", false
}

// upsertLines returns the file body with the user's record replaced in
// place, or appended if absent. Non-matching lines pass through untouched
// and keep their order. If the input somehow holds several lines for the
// user, only the first survives, so a successful write never leaves
// duplicate records.
func upsertLines(content string, userID int64, code string) string {
	marker := userMarker(userID)
	record := FormatLine(userID, code)

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines)+1)
	replaced := false
	for _, line := range lines {
		if strings.Contains(line, marker) {
			if !replaced {
				out = append(out, record)
				replaced = true
			}
			continue
		}
		out = append(out, line)
	}
	if !replaced {
		// Avoid a blank record when the file ends with a trailing newline.
		if len(out) > 0 && out[len(out)-1] == "" {
			out = out[:len(out)-1]
		}
		out = append(out, record)
	}
	return strings.Join(out, "\n")
}
