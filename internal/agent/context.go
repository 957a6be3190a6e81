// ABOUTME: Shared-context token convention: agents publish resource IDs as
// ABOUTME: "Using <key>: <value>" lines that later agents extract from the transcript

package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// MarkerLine returns the exact line an agent emits to publish a resource
// token for later agents.
func MarkerLine(key, value string) string {
	return fmt.Sprintf("Using %s: %s", key, value)
}

// ExtractToken scans text for "Using <key>: <value>" markers and returns
// the value of the most recent occurrence. Values are single tokens
// (resource identifiers), so the match stops at whitespace.
func ExtractToken(text, key string) (string, bool) {
	if key == "" {
		return "", false
	}

	re := regexp.MustCompile(`Using ` + regexp.QuoteMeta(key) + `:[ \t]*(\S+)`)
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}

	value := strings.TrimSpace(matches[len(matches)-1][1])
	if value == "" {
		return "", false
	}
	return value, true
}
