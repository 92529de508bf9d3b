package model

// Hard bounds for max_sections.
const (
	MinSectionsBound = 5
	MaxSectionsBound = 25
)

// ProcessingLimits holds the tunable thresholds the learner adapts over time.
type ProcessingLimits struct {
	MaxCharLength          int     `json:"max_char_length" yaml:"max_char_length"`
	MinCharLength          int     `json:"min_char_length" yaml:"min_char_length"`
	MaxCharLengthHardLimit int     `json:"max_char_length_hard_limit" yaml:"max_char_length_hard_limit"`
	MaxSections            int     `json:"max_sections" yaml:"max_sections"`
	MaxItemsPerSection     int     `json:"max_items_per_section" yaml:"max_items_per_section"`
	MaxCodeBlocks          int     `json:"max_code_blocks" yaml:"max_code_blocks"`
	MaxTopics              int     `json:"max_topics" yaml:"max_topics"`
	Sensitivity            float64 `json:"adaptation_sensitivity" yaml:"adaptation_sensitivity"`
	ConfidenceThreshold    float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	MinDataPoints          int     `json:"min_data_points" yaml:"min_data_points"`
}

// DefaultLimits returns the starting thresholds.
func DefaultLimits() ProcessingLimits {
	return ProcessingLimits{
		MaxCharLength:          8000,
		MinCharLength:          2000,
		MaxCharLengthHardLimit: 50000,
		MaxSections:            10,
		MaxItemsPerSection:     8,
		MaxCodeBlocks:          30,
		MaxTopics:              40,
		Sensitivity:            0.10,
		ConfidenceThreshold:    0.8,
		MinDataPoints:          10,
	}
}

// Normalize fills zero fields from defaults and pulls every value back inside its bounds.
func (l ProcessingLimits) Normalize() ProcessingLimits {
	d := DefaultLimits()
	if l.MinCharLength <= 0 {
		l.MinCharLength = d.MinCharLength
	}
	if l.MaxCharLengthHardLimit < l.MinCharLength {
		l.MaxCharLengthHardLimit = d.MaxCharLengthHardLimit
		if l.MaxCharLengthHardLimit < l.MinCharLength {
			l.MaxCharLengthHardLimit = l.MinCharLength
		}
	}
	if l.MaxCharLength == 0 {
		l.MaxCharLength = d.MaxCharLength
	}
	l.MaxCharLength = clampInt(l.MaxCharLength, l.MinCharLength, l.MaxCharLengthHardLimit)
	if l.MaxSections == 0 {
		l.MaxSections = d.MaxSections
	}
	l.MaxSections = clampInt(l.MaxSections, MinSectionsBound, MaxSectionsBound)
	if l.MaxItemsPerSection <= 0 {
		l.MaxItemsPerSection = d.MaxItemsPerSection
	}
	if l.MaxCodeBlocks <= 0 {
		l.MaxCodeBlocks = d.MaxCodeBlocks
	}
	if l.MaxTopics <= 0 {
		l.MaxTopics = d.MaxTopics
	}
	if l.Sensitivity == 0 {
		l.Sensitivity = d.Sensitivity
	}
	if l.Sensitivity < 0.05 {
		l.Sensitivity = 0.05
	}
	if l.Sensitivity > 0.20 {
		l.Sensitivity = 0.20
	}
	if l.ConfidenceThreshold <= 0 || l.ConfidenceThreshold > 1 {
		l.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if l.MinDataPoints <= 0 {
		l.MinDataPoints = d.MinDataPoints
	}
	return l
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
