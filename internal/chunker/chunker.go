// Package chunker groups parsed content items into chat-shaped chunks that can be
// processed one continuation step at a time.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/chat2course/internal/model"
)

const (
	// FillRatio is the share of max_char_length an intelligent chunk may fill.
	FillRatio = 0.8
	// GroupWords is how many leading title words key a progressive group.
	GroupWords = 3
	// Truncated marks text cut by SplitText.
	Truncated = "…[truncated]"

	separator    = "\n\n"
	generalGroup = "general"
)

// ChunkItems partitions items according to strategy. Every item lands in exactly one
// chunk and chunks preserve item order within their group.
func ChunkItems(items []model.ContentItem, strategy model.Strategy, limits model.ProcessingLimits) []string {
	if len(items) == 0 {
		return nil
	}
	limits = limits.Normalize()

	var groups [][]model.ContentItem
	switch strategy {
	case model.StrategySinglePass:
		groups = [][]model.ContentItem{items}
	case model.StrategyProgressiveBuild:
		groups = groupByTitle(items)
	case model.StrategyAdaptiveRetry:
		groups = batch(items, AdaptiveBatchSize(limits))
	default:
		groups = greedy(items, int(float64(limits.MaxCharLength)*FillRatio))
	}

	chunks := make([]string, 0, len(groups))
	for _, g := range groups {
		chunks = append(chunks, Join(g))
	}
	return chunks
}

// AdaptiveBatchSize is the fixed item count of an adaptive-retry chunk.
func AdaptiveBatchSize(limits model.ProcessingLimits) int {
	n := int(0.6 * float64(limits.MaxSections))
	if n < 2 {
		n = 2
	}
	return n
}

// Join serialises items back into chat text, one item per paragraph group.
func Join(items []model.ContentItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, Serialize(it))
	}
	return strings.Join(parts, separator)
}

// Serialize renders one item in the shape the parser reads back unchanged.
func Serialize(it model.ContentItem) string {
	var b strings.Builder
	switch it.Kind {
	case model.KindCode:
		fence := "```"
		if containsFence(it.Body, "```") {
			fence = "~~~"
		}
		b.WriteString(it.Title)
		b.WriteString(":")
		b.WriteString(separator)
		b.WriteString(fence)
		b.WriteString(it.Language)
		b.WriteString("\n")
		b.WriteString(it.Body)
		b.WriteString("\n")
		b.WriteString(fence)
		if it.Description != "" {
			b.WriteString(separator)
			b.WriteString(it.Description)
		}
	default:
		b.WriteString("## ")
		b.WriteString(it.Title)
		b.WriteString(separator)
		b.WriteString(it.Body)
	}
	return b.String()
}

func containsFence(body, fence string) bool {
	for _, l := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), fence) {
			return true
		}
	}
	return false
}

// greedy packs consecutive items while the serialised chunk stays under budget.
// An item larger than the budget gets a chunk of its own.
func greedy(items []model.ContentItem, budget int) [][]model.ContentItem {
	var groups [][]model.ContentItem
	var current []model.ContentItem
	size := 0

	for _, it := range items {
		n := utf8.RuneCountInString(Serialize(it))
		if len(current) > 0 && size+len(separator)+n > budget {
			groups = append(groups, current)
			current, size = nil, 0
		}
		if len(current) > 0 {
			size += len(separator)
		}
		current = append(current, it)
		size += n
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// groupByTitle groups items by the first words of their title, in first-seen order.
func groupByTitle(items []model.ContentItem) [][]model.ContentItem {
	index := map[string]int{}
	var groups [][]model.ContentItem
	for _, it := range items {
		key := GroupKey(it.Title)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}

// GroupKey is the progressive-build grouping key for a title.
func GroupKey(title string) string {
	words := strings.Fields(strings.ToLower(title))
	if len(words) == 0 {
		return generalGroup
	}
	if len(words) > GroupWords {
		words = words[:GroupWords]
	}
	return strings.Join(words, " ")
}

func batch(items []model.ContentItem, size int) [][]model.ContentItem {
	var groups [][]model.ContentItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, items[start:end])
	}
	return groups
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+\s*|[^.!?]+$`)

// SplitText breaks raw text into pieces of at most max runes. It prefers paragraph
// boundaries, then sentences, then words; a single word longer than max is truncated.
func SplitText(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var results []string
	for _, para := range strings.Split(text, separator) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= max {
			results = append(results, para)
			continue
		}
		results = append(results, pack(sentences(para), " ", max, func(s string) []string {
			return pack(strings.Fields(s), " ", max, func(w string) []string {
				return []string{truncate(w, max)}
			})
		})...)
	}
	return mergeSmall(results, max)
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// pack accumulates parts joined by sep up to max runes; parts that alone exceed max are
// handed to split.
func pack(parts []string, sep string, max int, split func(string) []string) []string {
	var results []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			results = append(results, current.String())
			current.Reset()
		}
	}

	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if n > max {
			flush()
			results = append(results, split(p)...)
			continue
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+len(sep)+n > max {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(p)
	}
	flush()
	return results
}

// mergeSmall rejoins adjacent paragraph pieces that fit together.
func mergeSmall(pieces []string, max int) []string {
	var results []string
	for _, p := range pieces {
		last := len(results) - 1
		if last >= 0 && utf8.RuneCountInString(results[last])+len(separator)+utf8.RuneCountInString(p) <= max {
			results[last] += separator + p
			continue
		}
		results = append(results, p)
	}
	return results
}

func truncate(s string, max int) string {
	marker := utf8.RuneCountInString(Truncated)
	if max <= marker {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-marker]) + Truncated
}
