// Package signature derives stable fingerprints from failure identity.
//
// The fingerprint is the deduplication key for the whole pipeline, so
// the cleaning step here is deliberately aggressive: ANSI color codes,
// stack frame lines and whitespace runs are stripped before hashing.
// Without it, every run's embedded timestamps and line numbers would
// mint a fresh fingerprint and defeat deduplication entirely.
//
// An empty error message degenerates the fingerprint to a hash of the
// test title alone, which can conflate distinct assertion failures
// inside the same test. That is a known precision/recall trade-off,
// kept as-is rather than silently papered over.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// maxErrorPrefix bounds how much of the cleaned error text feeds
	// the hash. Anything beyond this is run-specific noise more often
	// than signal.
	maxErrorPrefix = 200

	// fingerprintLen is the width of the hex fingerprint.
	fingerprintLen = 12
)

var (
	// ansiEscapes matches terminal color/control escape sequences.
	ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	// stackFrames matches stack trace frame lines ("    at fn (file:1:2)").
	stackFrames = regexp.MustCompile(`(?m)^\s*at\s+.*$`)

	// whitespaceRuns collapses any whitespace run to a single space.
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// Clean normalizes raw error text: strips ANSI escapes and stack frame
// lines, collapses whitespace, and truncates to a bounded prefix.
func Clean(errorMessage string) string {
	cleaned := ansiEscapes.ReplaceAllString(errorMessage, "")
	cleaned = stackFrames.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRuns.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) > maxErrorPrefix {
		cut := maxErrorPrefix
		// Back up to a rune boundary so the prefix stays valid UTF-8.
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}

		cleaned = cleaned[:cut]
	}

	return cleaned
}

// Fingerprint computes the stable fingerprint for a test failure from
// the test title and raw error message. Identical inputs always yield
// identical fingerprints.
func Fingerprint(testTitle, errorMessage string) string {
	payload := testTitle + "::" + Clean(errorMessage)
	sum := sha256.Sum256([]byte(payload))

	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
