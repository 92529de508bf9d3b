// Package analyzer scores chat text for complexity and recommends a chunking strategy.
package analyzer

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/parser"
)

// ItemsPerSection is how many parsed items make up one estimated section.
const ItemsPerSection = 5

// Thresholds are the complexity cut-offs and the normaliser for content length and
// section count. Code and topic counts are normalised by the processing limits.
type Thresholds struct {
	SinglePass   float64 `yaml:"single_pass" json:"single_pass"`
	Intelligent  float64 `yaml:"intelligent_chunk" json:"intelligent_chunk"`
	Progressive  float64 `yaml:"progressive_build" json:"progressive_build"`
	LengthNorm   float64 `yaml:"length_norm" json:"length_norm"`
	SectionsNorm float64 `yaml:"sections_norm" json:"sections_norm"`
	BaseSeconds  float64 `yaml:"base_seconds" json:"base_seconds"`
}

// DefaultThresholds returns the stock cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SinglePass:   0.3,
		Intelligent:  0.6,
		Progressive:  0.8,
		LengthNorm:   15000,
		SectionsNorm: 20,
		BaseSeconds:  30,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.SinglePass <= 0 {
		t.SinglePass = d.SinglePass
	}
	if t.Intelligent <= 0 {
		t.Intelligent = d.Intelligent
	}
	if t.Progressive <= 0 {
		t.Progressive = d.Progressive
	}
	if t.LengthNorm <= 0 {
		t.LengthNorm = d.LengthNorm
	}
	if t.SectionsNorm <= 0 {
		t.SectionsNorm = d.SectionsNorm
	}
	if t.BaseSeconds <= 0 {
		t.BaseSeconds = d.BaseSeconds
	}
	return t
}

var (
	fenceLineRe   = regexp.MustCompile("(?m)^\\s*(```|~~~)")
	headingLineRe = regexp.MustCompile(`(?m)^\s*#{1,6}\s+\S`)
)

// Analyze inspects text and recommends how to process it. It never fails: when the
// parser rejects the text, counts fall back to plain pattern matching.
func Analyze(text string, limits model.ProcessingLimits, th Thresholds) model.Analysis {
	limits = limits.Normalize()
	th = th.withDefaults()

	a := model.Analysis{ContentLength: utf8.RuneCountInString(text)}

	items, err := parser.Parse(text)
	if err != nil {
		a.Fallback = true
		a.CodeBlocks = len(fenceLineRe.FindAllStringIndex(text, -1)) / 2
		headings := len(headingLineRe.FindAllStringIndex(text, -1))
		a.Topics = headings
		a.EstimatedSections = max(1, headings)
	} else {
		for _, it := range items {
			if it.Kind == model.KindCode {
				a.CodeBlocks++
			} else {
				a.Topics++
			}
		}
		a.EstimatedSections = max(1, int(math.Ceil(float64(len(items))/ItemsPerSection)))
	}

	a.Complexity = Complexity(a, limits, th)
	a.Strategy, a.EstimatedChunks = Recommend(a, limits, th)
	if a.Fallback && a.ContentLength > limits.MaxCharLengthHardLimit {
		a.Strategy = model.StrategyIntelligentChunk
		a.EstimatedChunks = max(2, a.EstimatedSections/3)
	}
	a.EstimatedSeconds = th.BaseSeconds * (1 + 2*a.Complexity) * (1 + 0.5*float64(a.EstimatedChunks))
	return a
}

// Complexity is the mean of the four clamped, normalised counts.
func Complexity(a model.Analysis, limits model.ProcessingLimits, th Thresholds) float64 {
	score := unit(float64(a.ContentLength)/th.LengthNorm) +
		unit(float64(a.EstimatedSections)/th.SectionsNorm) +
		unit(float64(a.CodeBlocks)/float64(limits.MaxCodeBlocks)) +
		unit(float64(a.Topics)/float64(limits.MaxTopics))
	return math.Round(score/4*1000) / 1000
}

// Recommend picks the first strategy whose condition matches, with its chunk estimate.
func Recommend(a model.Analysis, limits model.ProcessingLimits, th Thresholds) (model.Strategy, int) {
	c := a.Complexity
	switch {
	case a.ContentLength <= limits.MaxCharLength && c < th.SinglePass:
		return model.StrategySinglePass, 1
	case c < th.Intelligent:
		return model.StrategyIntelligentChunk, max(2, a.EstimatedSections/3)
	case c < th.Progressive:
		return model.StrategyProgressiveBuild, a.EstimatedSections
	default:
		return model.StrategyAdaptiveRetry, a.EstimatedSections + 2
	}
}

// Summary renders a one-line human description of an analysis.
func Summary(a model.Analysis) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(string(a.Strategy), "_", " "))
	b.WriteString(" recommended")
	if a.Fallback {
		b.WriteString(" (estimated without parsing)")
	}
	return b.String()
}

func unit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
