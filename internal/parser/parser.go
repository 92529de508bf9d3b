// Package parser extracts code and topic items from chat-shaped text.
package parser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/chat2course/internal/model"
)

// ErrInvalidText is returned for input that is not valid UTF-8.
var ErrInvalidText = errors.New("parser: text is not valid utf-8")

const (
	maxTitleRunes   = 60
	minTopicRunes   = 120
	defaultCategory = "General"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockCode
)

// block is an intermediate representation of a text section.
type block struct {
	kind blockKind
	text string
	lang string
}

var (
	headingRe     = regexp.MustCompile(`^(#{1,6}\s+)+`)
	educationalRe = regexp.MustCompile(`(?i)\b(learn\w*|understand\w*|concepts?|explain\w*|examples?|important|note|means|allows?|used (to|for)|definitions?|defines?|because|therefore|lessons?|tutorial|remember|key point|in summary|introduc\w*|how to|why)\b`)
	sentenceEndRe = regexp.MustCompile(`[.!?](\s|$)`)
)

// Parse splits text into ordered content items. Whitespace-only input yields no items.
func Parse(text string) ([]model.ContentItem, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidText
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return buildItems(splitBlocks(text)), nil
}

// splitBlocks splits text on fences, heading lines and blank lines.
func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, block{kind: blockParagraph, text: t})
		}
		current = nil
	}

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		if fence := fenceMarker(trimmed); fence != "" {
			flush()
			info := strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
			var code []string
			i++
			for ; i < len(lines); i++ {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
					break
				}
				code = append(code, lines[i])
			}
			lang := ""
			if fields := strings.Fields(info); len(fields) > 0 {
				lang = fields[0]
			}
			blocks = append(blocks, block{kind: blockCode, text: strings.Trim(strings.Join(code, "\n"), "\n"), lang: lang})
			continue
		}

		if headingRe.MatchString(trimmed) {
			flush()
			blocks = append(blocks, block{kind: blockHeading, text: strings.TrimSpace(headingRe.ReplaceAllString(trimmed, ""))})
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		current = append(current, lines[i])
	}
	flush()

	return blocks
}

func fenceMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "```"):
		return "```"
	case strings.HasPrefix(line, "~~~"):
		return "~~~"
	}
	return ""
}

// isIntro reports whether blocks[i] is a one-line lead-in to the code block after it.
func isIntro(blocks []block, i int) bool {
	if i+1 >= len(blocks) || blocks[i].kind != blockParagraph || blocks[i+1].kind != blockCode {
		return false
	}
	t := blocks[i].text
	return !strings.Contains(t, "\n") && strings.HasSuffix(t, ":")
}

func buildItems(blocks []block) []model.ContentItem {
	var items []model.ContentItem
	heading := ""
	consumed := make([]bool, len(blocks))

	for i, b := range blocks {
		if consumed[i] {
			continue
		}
		switch b.kind {
		case blockHeading:
			heading = b.text

		case blockCode:
			if strings.TrimSpace(b.text) == "" {
				continue
			}
			title := ""
			if i > 0 && isIntro(blocks, i-1) {
				title = strings.TrimSpace(strings.TrimSuffix(blocks[i-1].text, ":"))
			}
			if title == "" {
				title = heading
			}
			if title == "" {
				title = deriveTitle(firstLine(b.text))
			}
			desc := ""
			if next := i + 1; next < len(blocks) && blocks[next].kind == blockParagraph && !isIntro(blocks, next) {
				desc = blocks[next].text
				consumed[next] = true
			}
			lang := NormalizeLanguage(b.lang)
			if lang == "" {
				lang = DetectLanguage(b.text)
			}
			items = append(items, model.ContentItem{
				Kind:        model.KindCode,
				Title:       title,
				Body:        b.text,
				Description: desc,
				Language:    lang,
				Category:    Categorize(title + " " + b.text),
				Meta:        map[string]string{"lines": strconv.Itoa(strings.Count(b.text, "\n") + 1)},
			})

		case blockParagraph:
			if isIntro(blocks, i) {
				continue
			}
			if heading == "" && !IsEducational(b.text) && utf8.RuneCountInString(b.text) < minTopicRunes {
				continue
			}
			title := heading
			if title == "" {
				title = deriveTitle(firstSentence(b.text))
			}
			items = append(items, model.ContentItem{
				Kind:     model.KindTopic,
				Title:    title,
				Body:     b.text,
				Category: Categorize(title + " " + b.text),
				Meta:     map[string]string{"words": strconv.Itoa(len(strings.Fields(b.text)))},
			})
		}
	}
	return items
}

// IsEducational reports whether prose reads like an explanation rather than chit-chat.
func IsEducational(text string) bool {
	return educationalRe.MatchString(text)
}

func firstLine(text string) string {
	for _, l := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			return t
		}
	}
	return ""
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if loc := sentenceEndRe.FindStringIndex(text); loc != nil {
		return text[:loc[0]]
	}
	return text
}

// deriveTitle turns a line of body text into a single-line title.
func deriveTitle(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "#>*-` ")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxTitleRunes {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	if s == "" {
		return "Untitled"
	}
	return s
}
