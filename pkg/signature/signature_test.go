package signature

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	fp1 := Fingerprint("Login test", "Timeout 30000ms exceeded")
	fp2 := Fingerprint("Login test", "Timeout 30000ms exceeded")

	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 12)
}

func TestFingerprint_IgnoresRunNoise(t *testing.T) {
	tests := []struct {
		name string
		msgA string
		msgB string
	}{
		{
			name: "ansi color codes",
			msgA: "expected \x1b[32mtrue\x1b[0m got \x1b[31mfalse\x1b[0m",
			msgB: "expected true got false",
		},
		{
			name: "stack frames",
			msgA: "locator not found\n    at LoginPage.submit (login.ts:42:10)\n    at run (runner.ts:7:3)",
			msgB: "locator not found\n    at LoginPage.submit (login.ts:99:22)",
		},
		{
			name: "whitespace runs",
			msgA: "expected   value\n\n\tto equal other",
			msgB: "expected value to equal other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t,
				Fingerprint("Checkout flow", tt.msgA),
				Fingerprint("Checkout flow", tt.msgB),
			)
		})
	}
}

func TestFingerprint_DifferentTitlesDiffer(t *testing.T) {
	msg := "connection refused"

	assert.NotEqual(t,
		Fingerprint("Test A", msg),
		Fingerprint("Test B", msg),
	)
}

func TestFingerprint_EmptyErrorDegeneratesToTitle(t *testing.T) {
	// Known trade-off: only the title contributes when the error text
	// is empty, so two distinct empty-message failures in the same
	// test conflate.
	assert.Equal(t,
		Fingerprint("Search page", ""),
		Fingerprint("Search page", "\x1b[0m   \n"),
	)
}

func TestClean_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 5000)
	cleaned := Clean(long)

	require.Len(t, cleaned, 200)

	// Fingerprints of two messages sharing a 200-char prefix collide
	// on purpose.
	assert.Equal(t,
		Fingerprint("t", long+"AAA"),
		Fingerprint("t", long+"BBB"),
	)
}

func TestClean_TruncatesAtRuneBoundary(t *testing.T) {
	// 199 ASCII bytes followed by a 3-byte rune that straddles the
	// prefix limit. A byte-level cut would leave invalid UTF-8.
	long := strings.Repeat("x", 199) + strings.Repeat("日", 50)
	cleaned := Clean(long)

	assert.True(t, utf8.ValidString(cleaned))
	assert.Equal(t, 199, len(cleaned))
}
