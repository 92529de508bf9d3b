package parser

import (
	"regexp"
	"strings"
)

var languageAliases = map[string]string{
	"py":         "python",
	"python3":    "python",
	"golang":     "go",
	"js":         "javascript",
	"node":       "javascript",
	"ts":         "typescript",
	"sh":         "bash",
	"shell":      "bash",
	"zsh":        "bash",
	"console":    "bash",
	"c++":        "cpp",
	"cs":         "csharp",
	"c#":         "csharp",
	"yml":        "yaml",
	"text":       "",
	"plaintext":  "",
	"txt":        "",
	"postgresql": "sql",
}

// NormalizeLanguage lower-cases a fence info tag and folds common aliases.
func NormalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if v, ok := languageAliases[tag]; ok {
		return v
	}
	return tag
}

type languageRule struct {
	lang string
	re   *regexp.Regexp
}

// Evaluated in order; first match wins.
var languageRules = []languageRule{
	{"python", regexp.MustCompile(`(?m)^\s*(def \w+\(|import \w+|from [\w.]+ import |print\(|class \w+(\(.*\))?:)`)},
	{"go", regexp.MustCompile(`(?m)^\s*(package \w+|func \w*\(|import \()|:= `)},
	{"java", regexp.MustCompile(`public\s+(static\s+)?(class|void|int|String)\b`)},
	{"javascript", regexp.MustCompile(`(?m)^\s*(const|let|var) \w+\s*=|console\.log\(|=>\s*\{|function \w+\(`)},
	{"sql", regexp.MustCompile(`(?im)^\s*(select .+ from|insert into|update \w+ set|create table)`)},
	{"html", regexp.MustCompile(`(?i)<(html|div|body|span|p|a|ul|li)\b[^>]*>`)},
	{"bash", regexp.MustCompile(`(?m)^\s*(\$ |sudo |echo |cd |ls |mkdir |pip install|npm install|go (run|build|test))`)},
}

// DetectLanguage guesses the language of an untagged code block.
func DetectLanguage(code string) string {
	for _, r := range languageRules {
		if r.re.MatchString(code) {
			return r.lang
		}
	}
	return ""
}

type categoryRule struct {
	name     string
	keywords []string
}

var categoryRules = []categoryRule{
	{"Functions", []string{"function", "def ", "func ", "return", "parameter", "argument"}},
	{"Loops & Iteration", []string{"loop", "for ", "while", "iterate", "range"}},
	{"Data Structures", []string{"list", "array", "dict", "map", "slice", "tuple", "stack", "queue"}},
	{"Classes & Objects", []string{"class", "object", "method", "inherit", "struct", "interface"}},
	{"Error Handling", []string{"error", "exception", "try", "catch", "panic"}},
	{"Testing", []string{"test", "assert"}},
	{"Databases", []string{"sql", "select ", "database", "query", "table"}},
	{"Web & APIs", []string{"http", "api", "request", "endpoint", "json"}},
}

// Categorize picks the category whose keywords occur most often; ties go to the earlier rule.
func Categorize(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := defaultCategory, 0
	for _, r := range categoryRules {
		hits := 0
		for _, kw := range r.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits > bestHits {
			best, bestHits = r.name, hits
		}
	}
	return best
}
