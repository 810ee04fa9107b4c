package executor

import (
	"sort"
	"strings"
)

// Language describes how one language is resolved, sandboxed and inspected
// for interactive input.
type Language struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// ReadPrimitives are substrings that mark a program as possibly blocking
	// on stdin. This is a placeholder policy, not a parser.
	ReadPrimitives []string `json:"-"`

	// EOFSignatures appear on stderr when the program hit end-of-input while
	// reading. Empty means suspension can only be reported by the service.
	EOFSignatures []string `json:"-"`
}

// Languages is the static language → version table used to resolve the
// version the execution service expects.
var Languages = map[string]Language{
	"python": {
		Name:           "python",
		Version:        "3.10.0",
		ReadPrimitives: []string{"input(", "sys.stdin"},
		EOFSignatures:  []string{"EOFError: EOF when reading a line", "EOFError"},
	},
	"javascript": {
		Name:           "javascript",
		Version:        "18.15.0",
		ReadPrimitives: []string{"readline", "process.stdin", "prompt("},
	},
	"typescript": {
		Name:           "typescript",
		Version:        "5.0.3",
		ReadPrimitives: []string{"readline", "process.stdin"},
	},
	"java": {
		Name:           "java",
		Version:        "15.0.2",
		ReadPrimitives: []string{"System.in", "readLine("},
		EOFSignatures:  []string{"java.util.NoSuchElementException"},
	},
	"csharp": {
		Name:           "csharp",
		Version:        "6.12.0",
		ReadPrimitives: []string{"Console.ReadLine", "Console.Read("},
	},
	"php": {
		Name:           "php",
		Version:        "8.2.3",
		ReadPrimitives: []string{"fgets(STDIN", "readline(", "fscanf(STDIN"},
	},
}

// aliases maps common short names and file extensions to table keys.
var aliases = map[string]string{
	"py":   "python",
	"js":   "javascript",
	"node": "javascript",
	"ts":   "typescript",
	"cs":   "csharp",
	"c#":   "csharp",
}

// LookupLanguage returns the table entry for name (case-insensitive). Short
// names such as "py" and "js" resolve to their canonical entry.
func LookupLanguage(name string) (Language, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	lang, ok := Languages[key]
	return lang, ok
}

// LanguageNames returns the supported language names, sorted.
func LanguageNames() []string {
	names := make([]string, 0, len(Languages))
	for name := range Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NeedsInput reports whether code in language may block on interactive input.
func NeedsInput(language, code string) bool {
	lang, ok := LookupLanguage(language)
	if !ok {
		return false
	}
	for _, p := range lang.ReadPrimitives {
		if strings.Contains(code, p) {
			return true
		}
	}
	return false
}

// InputExhausted reports whether stderr shows the program ran out of stdin
// while reading.
func InputExhausted(language, stderr string) bool {
	lang, ok := LookupLanguage(language)
	if !ok {
		return false
	}
	for _, sig := range lang.EOFSignatures {
		if strings.Contains(stderr, sig) {
			return true
		}
	}
	return false
}
