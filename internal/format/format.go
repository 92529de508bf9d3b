// Package format renders content items as HTML for course pages.
package format

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "github"

// Formatter turns code and prose into page HTML. It holds no per-call state and is
// safe for concurrent use.
type Formatter struct {
	style     *chroma.Style
	formatter *chromahtml.Formatter
	md        goldmark.Markdown
	policy    *bluemonday.Policy
}

// New returns a formatter using the named chroma style.
func New(style string) *Formatter {
	if style == "" {
		style = DefaultStyle
	}
	return &Formatter{
		style:     styles.Get(style),
		formatter: chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4)),
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:    bluemonday.UGCPolicy(),
	}
}

// FormatCode renders a highlighted code block with its title and optional description.
func (f *Formatter) FormatCode(code, language, title, description string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("tokenise %s: %w", language, err)
	}
	var highlighted bytes.Buffer
	if err := f.formatter.Format(&highlighted, f.style, it); err != nil {
		return "", fmt.Errorf("highlight: %w", err)
	}

	var b strings.Builder
	b.WriteString(`<div class="chat2course-code">`)
	fmt.Fprintf(&b, "<h3>%s</h3>", html.EscapeString(title))
	if language != "" {
		fmt.Fprintf(&b, `<p class="language"><strong>Language:</strong> %s</p>`, html.EscapeString(language))
	}
	b.WriteString(highlighted.String())
	if description != "" {
		desc, err := f.markdown(description)
		if err != nil {
			return "", err
		}
		b.WriteString(`<div class="description">`)
		b.WriteString(desc)
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div>`)
	return b.String(), nil
}

// FormatTopic renders explanatory prose as sanitised HTML.
func (f *Formatter) FormatTopic(text, title, description string) (string, error) {
	body, err := f.markdown(text)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<div class="chat2course-topic">`)
	fmt.Fprintf(&b, "<h3>%s</h3>", html.EscapeString(title))
	if description != "" {
		fmt.Fprintf(&b, `<p class="summary"><em>%s</em></p>`, html.EscapeString(description))
	}
	b.WriteString(body)
	b.WriteString(`</div>`)
	return b.String(), nil
}

// SectionSummary renders the short HTML summary placed on a course section.
func (f *Formatter) SectionSummary(codeItems, topicItems int) string {
	return fmt.Sprintf("<p>%d code example(s) and %d explanation(s) from the conversation.</p>", codeItems, topicItems)
}

func (f *Formatter) markdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := f.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return f.policy.Sanitize(buf.String()), nil
}
