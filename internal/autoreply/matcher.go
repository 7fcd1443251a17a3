package autoreply

import (
	"sort"
	"strings"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/similarity"
)

// MatchKeyword returns the first rule, in priority order, with a keyword matching
// text, along with that keyword. Keywords of one rule are tried in declaration order.
func MatchKeyword(rules []models.AutoReplyRule, text string) (*models.AutoReplyRule, string) {
	sorted := byPriority(rules)
	for i := range sorted {
		rule := &sorted[i]
		for _, kw := range rule.Keywords() {
			if keywordMatches(rule.MatchMode, kw, text, rule.CaseSensitive) {
				return rule, kw
			}
		}
	}
	return nil, ""
}

// byPriority returns a copy of rules by descending priority. The stored order breaks
// ties. The input may be a shared cached snapshot and is left untouched.
func byPriority(rules []models.AutoReplyRule) []models.AutoReplyRule {
	sorted := append([]models.AutoReplyRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return sorted
}

func keywordMatches(mode, keyword, text string, caseSensitive bool) bool {
	if !caseSensitive {
		keyword = strings.ToLower(keyword)
		text = strings.ToLower(text)
	}
	switch mode {
	case models.MatchExact:
		return text == keyword
	case models.MatchStartsWith:
		return strings.HasPrefix(text, keyword)
	default:
		return strings.Contains(text, keyword)
	}
}

// Candidate is a similarity match resolved back to its rule.
type Candidate struct {
	Rule     *models.AutoReplyRule
	Score    float64
	Combined float64
}

// BestCandidate combines each match's score with its rule's priority and returns
// the highest. Matches for unknown rules are ignored; the first of equal scores wins.
func BestCandidate(rules []models.AutoReplyRule, matches []similarity.Match) *Candidate {
	byID := make(map[uint]*models.AutoReplyRule, len(rules))
	for i := range rules {
		byID[rules[i].ID] = &rules[i]
	}

	var best *Candidate
	for _, m := range matches {
		rule, ok := byID[m.ID]
		if !ok {
			continue
		}
		combined := m.Score + float64(rule.Priority)*config.SimilarityPriorityWeight
		if best == nil || combined > best.Combined {
			best = &Candidate{Rule: rule, Score: m.Score, Combined: combined}
		}
	}
	return best
}
