package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethpandaops/triagoor/pkg/crossbrowser"
	"github.com/ethpandaops/triagoor/pkg/event"
)

func TestBase(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want event.Severity
	}{
		{"critical", []string{"critical"}, event.SeverityHighest},
		{"blocker", []string{"smoke", "blocker"}, event.SeverityHighest},
		{"security", []string{"security"}, event.SeverityHigh},
		{"critical outranks security", []string{"security", "critical"}, event.SeverityHighest},
		{"accessibility", []string{"accessibility"}, event.SeverityMedium},
		{"no tags", nil, event.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Base(tt.tags))
		})
	}
}

func TestCompute_Escalation(t *testing.T) {
	tests := []struct {
		name  string
		facts Facts
		want  event.Severity
	}{
		{
			name:  "untagged single occurrence stays medium",
			facts: Facts{OccurrenceCount: 1, IsFirstOccurrence: true, Spread: crossbrowser.SpreadSingle},
			want:  event.SeverityMedium,
		},
		{
			name:  "universal escalates one level",
			facts: Facts{OccurrenceCount: 1, Spread: crossbrowser.SpreadUniversal},
			want:  event.SeverityHigh,
		},
		{
			name:  "recurrence escalates one level",
			facts: Facts{OccurrenceCount: 4, Spread: crossbrowser.SpreadSingle},
			want:  event.SeverityHigh,
		},
		{
			name:  "universal and recurrence stack to highest",
			facts: Facts{OccurrenceCount: 4, Spread: crossbrowser.SpreadUniversal},
			want:  event.SeverityHighest,
		},
		{
			name: "critical first occurrence forced to highest",
			facts: Facts{
				Tags:              []string{"critical"},
				OccurrenceCount:   1,
				IsFirstOccurrence: true,
				Spread:            crossbrowser.SpreadSingle,
			},
			want: event.SeverityHighest,
		},
		{
			name:  "highest base cannot escalate beyond highest",
			facts: Facts{Tags: []string{"blocker"}, OccurrenceCount: 10, Spread: crossbrowser.SpreadUniversal},
			want:  event.SeverityHighest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.facts))
		})
	}
}

// Escalation never yields a severity below the unescalated base for
// the same tag set.
func TestCompute_Monotonic(t *testing.T) {
	tagSets := [][]string{nil, {"security"}, {"critical"}, {"accessibility"}}
	spreads := []crossbrowser.Spread{
		crossbrowser.SpreadSingle, crossbrowser.SpreadPartial, crossbrowser.SpreadUniversal,
	}

	for _, tags := range tagSets {
		base := Base(tags)

		for _, spread := range spreads {
			for _, count := range []int{1, 2, 4, 100} {
				got := Compute(Facts{
					Tags:            tags,
					OccurrenceCount: count,
					Spread:          spread,
				})
				assert.GreaterOrEqual(t, got.Rank(), base.Rank(),
					"tags=%v spread=%s count=%d", tags, spread, count)
			}
		}
	}
}
