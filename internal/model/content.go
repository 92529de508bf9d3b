// Package model defines the core course-building data types.
package model

// ItemKind classifies a ContentItem.
type ItemKind string

const (
	KindCode  ItemKind = "code"
	KindTopic ItemKind = "topic"
)

// ContentItem is one atomic unit extracted from chat text.
type ContentItem struct {
	Kind        ItemKind          `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Description string            `json:"description,omitempty"`
	Language    string            `json:"language,omitempty"`
	Category    string            `json:"category,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Strategy is the chunking/processing approach chosen for a session.
type Strategy string

const (
	StrategySinglePass       Strategy = "single_pass"
	StrategyIntelligentChunk Strategy = "intelligent_chunk"
	StrategyProgressiveBuild Strategy = "progressive_build"
	StrategyAdaptiveRetry    Strategy = "adaptive_retry"
)

// Strategies lists every strategy in escalation order.
var Strategies = []Strategy{
	StrategySinglePass,
	StrategyIntelligentChunk,
	StrategyProgressiveBuild,
	StrategyAdaptiveRetry,
}

// ValidStrategies are the allowed strategy names.
var ValidStrategies = map[Strategy]bool{
	StrategySinglePass:       true,
	StrategyIntelligentChunk: true,
	StrategyProgressiveBuild: true,
	StrategyAdaptiveRetry:    true,
}

// Analysis is the result of inspecting raw chat text.
type Analysis struct {
	ContentLength     int      `json:"content_length"`
	CodeBlocks        int      `json:"code_blocks"`
	Topics            int      `json:"topics"`
	EstimatedSections int      `json:"estimated_sections"`
	Complexity        float64  `json:"complexity_score"`
	Strategy          Strategy `json:"recommended_strategy"`
	EstimatedChunks   int      `json:"estimated_chunks"`
	EstimatedSeconds  float64  `json:"estimated_processing_seconds"`
	Fallback          bool     `json:"fallback,omitempty"`
}
