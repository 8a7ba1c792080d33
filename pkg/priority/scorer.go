// Package priority maps URLs to integer crawl priorities using keyword tiers.
package priority

import (
	"sort"
	"strings"
)

// Tier names with a fixed value; any other tier name scores -1
const (
	TierHigh   = "high"
	TierMiddle = "middle"
)

// KeywordTable maps a tier name to its keywords
type KeywordTable map[string][]string

// TierValue returns the priority a tier grants
func TierValue(tier string) int {
	switch tier {
	case TierHigh:
		return 1
	case TierMiddle:
		return 0
	default:
		return -1
	}
}

type tierRule struct {
	value    int
	keywords []string // lowercased
}

// HubPriority is the floor given to links found on a hub page
const HubPriority = 1

// Scorer is safe for concurrent use; the table is fixed at construction
type Scorer struct {
	longURLThreshold int
	hubLinkThreshold int // 0 disables the hub bonus
	rules            []tierRule
}

// NewScorer builds a scorer from a keyword table and the long-URL length threshold
func NewScorer(table KeywordTable, longURLThreshold int) *Scorer {
	s := &Scorer{longURLThreshold: longURLThreshold}
	tiers := make([]string, 0, len(table))
	for tier := range table {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		rule := tierRule{value: TierValue(tier)}
		for _, kw := range table[tier] {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				rule.keywords = append(rule.keywords, kw)
			}
		}
		s.rules = append(s.rules, rule)
	}
	return s
}

// WithHubBonus makes links discovered on a page with more than minLinks outgoing links score at
// least HubPriority. A minLinks <= 0 disables the bonus.
func (s *Scorer) WithHubBonus(minLinks int) *Scorer {
	s.hubLinkThreshold = max(minLinks, 0)
	return s
}

// ScoreDiscovered scores a link found on a page carrying sourceLinks links
func (s *Scorer) ScoreDiscovered(rawURL string, sourceLinks int) int {
	score := s.Score(rawURL)
	if s.hubLinkThreshold > 0 && sourceLinks > s.hubLinkThreshold && score < HubPriority {
		score = HubPriority
	}
	return score
}

// Score returns the priority of rawURL.
// Base 0, raised to 1 for URLs longer than the threshold, then raised to the value of any tier
// with a keyword that is a case-insensitive substring of the URL.
func (s *Scorer) Score(rawURL string) int {
	score := 0
	if s.longURLThreshold > 0 && len(rawURL) > s.longURLThreshold {
		score = 1
	}
	lower := strings.ToLower(rawURL)
	for _, rule := range s.rules {
		if rule.value <= score {
			continue
		}
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score = rule.value
				break
			}
		}
	}
	return score
}
