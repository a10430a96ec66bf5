package config

import "github.com/bmatcuk/doublestar/v4"

// Classifier evaluates a project-relative path against the tier and
// security glob lists from a Config (spec.md §6.3 "[tiers]"/"[security]").
type Classifier struct {
	tier1   []string
	tier2   []string
	exclude []string
}

// NewClassifier builds a Classifier from cfg's tier and security sections.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		tier1:   cfg.Tiers.Tier1Patterns,
		tier2:   cfg.Tiers.Tier2Patterns,
		exclude: cfg.Security.ExcludePatterns,
	}
}

// Tier classifies relPath (project-relative, forward-slash separated)
// as Tier1, Tier2, or TierAuto if it matches neither pattern list.
func (c *Classifier) Tier(relPath string) Tier {
	if matchesAny(c.tier1, relPath) {
		return Tier1
	}
	if matchesAny(c.tier2, relPath) {
		return Tier2
	}
	return TierAuto
}

// Excluded reports whether relPath matches a security exclude pattern
// and should be skipped from ingest entirely (spec.md §6.3 "[security]
// exclude_patterns").
func (c *Classifier) Excluded(relPath string) bool {
	return matchesAny(c.exclude, relPath)
}

func matchesAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
