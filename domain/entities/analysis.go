package entities

import "sort"

// emotionVocabulary is the fixed iteration order used when deriving the
// dominant emotion. Ties are broken by whichever emotion appears first in
// this order; emotions outside the vocabulary are considered afterwards in
// lexicographic order. The rule is deliberate so the derivation is
// deterministic rather than dependent on map iteration.
var emotionVocabulary = []string{"joy", "sadness", "anger", "fear", "surprise", "disgust"}

// SentimentResult holds the emotional scoring of a single piece of text.
// Score ranges from -1 (negative) to 1 (positive); emotion intensities
// range from 0 to 1.
type SentimentResult struct {
	Score    float64            `json:"score" bson:"score"`
	Emotions map[string]float64 `json:"emotions" bson:"emotions"`
	Keywords []string           `json:"keywords,omitempty" bson:"keywords,omitempty"`
}

// DominantEmotion returns the emotion with the highest intensity, using the
// fixed vocabulary order for tie-breaking. Returns "" when no emotions were
// scored.
func (s *SentimentResult) DominantEmotion() string {
	if len(s.Emotions) == 0 {
		return ""
	}

	seen := make(map[string]bool, len(emotionVocabulary))
	order := make([]string, 0, len(s.Emotions))
	for _, name := range emotionVocabulary {
		if _, ok := s.Emotions[name]; ok {
			order = append(order, name)
			seen[name] = true
		}
	}

	extras := make([]string, 0)
	for name := range s.Emotions {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	order = append(order, extras...)

	dominant := ""
	best := -1.0
	for _, name := range order {
		if v := s.Emotions[name]; v > best {
			dominant = name
			best = v
		}
	}
	return dominant
}

// RiskLevel is the ordered crisis severity scale. Only the ordering
// low < medium < high < critical is defined; no numeric scale is assumed.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLevelLow:      0,
	RiskLevelMedium:   1,
	RiskLevelHigh:     2,
	RiskLevelCritical: 3,
}

// AtLeast reports whether the level is at or above the given threshold
func (r RiskLevel) AtLeast(threshold RiskLevel) bool {
	return riskRank[r] >= riskRank[threshold]
}

// Valid reports whether the level is one of the defined values
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// CrisisAssessment is the result of screening text for crisis language
type CrisisAssessment struct {
	IsCrisis         bool      `json:"is_crisis" bson:"is_crisis"`
	RiskLevel        RiskLevel `json:"risk_level" bson:"risk_level"`
	Indicators       []string  `json:"indicators,omitempty" bson:"indicators,omitempty"`
	SuggestedActions []string  `json:"suggested_actions,omitempty" bson:"suggested_actions,omitempty"`
}
