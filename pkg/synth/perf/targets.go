// Package perf tracks per-adapter synthesis performance, raises
// cooldown-limited alerts when thresholds are crossed, and assesses
// normalized samples against per-category targets.
package perf

import "time"

// Category buckets requests by text length so targets can scale with the
// size of the work.
type Category string

const (
	// CategoryShort covers texts up to 50 words.
	CategoryShort Category = "short"

	// CategoryMedium covers texts up to 200 words.
	CategoryMedium Category = "medium"

	// CategoryLong covers texts beyond 200 words, nominally up to 1000.
	CategoryLong Category = "long"
)

// CategoryForWords returns the text-length category for a word count.
func CategoryForWords(words int) Category {
	switch {
	case words <= 50:
		return CategoryShort
	case words <= 200:
		return CategoryMedium
	default:
		return CategoryLong
	}
}

// Targets holds the performance floor and ceilings for one category.
// Synthesis rate and quality are meet-or-exceed; response time and memory
// are at-or-below.
type Targets struct {
	// MinRate is the minimum synthesis rate in words per second.
	MinRate float64

	// MaxResponseTime is the response time ceiling.
	MaxResponseTime time.Duration

	// MaxMemory is the memory ceiling in bytes.
	MaxMemory int64

	// MinQuality is the minimum quality score (0 to 100).
	MinQuality float64
}

// TargetTable maps each text-length category to its targets.
type TargetTable map[Category]Targets

// DefaultTargets returns the baseline target table. Long texts are allowed
// more time and memory but must keep a comparable throughput.
func DefaultTargets() TargetTable {
	return TargetTable{
		CategoryShort: {
			MinRate:         10,
			MaxResponseTime: 2 * time.Second,
			MaxMemory:       32 << 20,
			MinQuality:      70,
		},
		CategoryMedium: {
			MinRate:         12,
			MaxResponseTime: 8 * time.Second,
			MaxMemory:       64 << 20,
			MinQuality:      70,
		},
		CategoryLong: {
			MinRate:         12,
			MaxResponseTime: 45 * time.Second,
			MaxMemory:       128 << 20,
			MinQuality:      65,
		},
	}
}
