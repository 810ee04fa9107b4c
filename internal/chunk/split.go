// Package chunk localizes a runtime failure to a region of source code.
//
// HOW LOCALIZATION WORKS:
// The source is cut into ordered, gapless chunks. Each prefix
// chunks[0..i] is then run as a standalone program. The first prefix that
// fails names the chunk whose inclusion broke the program:
//
//	chunks:   [imports] [helper] [main logic] [report]
//	prefix 0: ok
//	prefix 1: ok
//	prefix 2: NameError   ← chunk 2 is reported
//
// The splitter is a lightweight tokenizer, not a parser. It only needs to
// avoid cutting through a block, a string literal or an open bracket; a
// coarser chunking is always safe, it just localizes less precisely.
package chunk

import (
	"regexp"
	"strings"
)

// Syntax describes just enough of a language's lexical rules to keep the
// tokenizer out of comments and string literals.
type Syntax struct {
	LineComments []string
	BlockComment [2]string
	// MultiLineQuotes are string delimiters that may span lines
	// (""" and ''' in Python, ` in JavaScript).
	MultiLineQuotes []string
}

var (
	pythonSyntax = Syntax{
		LineComments:    []string{"#"},
		MultiLineQuotes: []string{`"""`, `'''`},
	}
	cSyntax = Syntax{
		LineComments: []string{"//"},
		BlockComment: [2]string{"/*", "*/"},
	}
	jsSyntax = Syntax{
		LineComments:    []string{"//"},
		BlockComment:    [2]string{"/*", "*/"},
		MultiLineQuotes: []string{"`"},
	}
	phpSyntax = Syntax{
		LineComments: []string{"//", "#"},
		BlockComment: [2]string{"/*", "*/"},
	}
)

// SyntaxFor returns the lexical rules for language. Unknown languages get
// the zero Syntax, which only tracks single-line strings and brackets.
func SyntaxFor(language string) Syntax {
	switch strings.ToLower(language) {
	case "python":
		return pythonSyntax
	case "javascript", "typescript":
		return jsSyntax
	case "java", "csharp", "c", "cpp", "go", "rust", "kotlin":
		return cSyntax
	case "php":
		return phpSyntax
	}
	return Syntax{}
}

var (
	blockOpener = regexp.MustCompile(`^(async\s+def|def|class|function|async\s+function|func|fn|interface|struct|enum|impl|trait|public|private|protected|static|abstract|final|export)\b`)
	continuation = regexp.MustCompile(`^(else|elif|except|finally|catch)\b|^[)\]}.]`)
)

// Split cuts source into chunks with the language-agnostic rules.
func Split(source string) []string {
	return SplitSyntax(Syntax{}, source)
}

// SplitFor cuts source into chunks using language's comment and string rules.
func SplitFor(language, source string) []string {
	return SplitSyntax(SyntaxFor(language), source)
}

// SplitSyntax cuts source into chunks. A new chunk starts only at a
// top-level line (no indentation, no open bracket or string) that either
// follows a blank line, follows the end of a nested block, or opens a
// function/class-like block. Continuation keywords, closing brackets and
// the line after a decorator never start a chunk.
//
// Lines keep their terminators, so strings.Join(chunks, "") == source.
func SplitSyntax(syn Syntax, source string) []string {
	if source == "" {
		return nil
	}

	lines := strings.SplitAfter(source, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var (
		chunks     []string
		current    strings.Builder
		hasContent bool // current chunk holds a non-blank line
		prevBlank  bool
		prevNested bool // last non-blank line was inside a block
		prevDecor  bool // last non-blank line was a top-level decorator
		lex        lexer
	)
	lex.syntax = syn

	for _, line := range lines {
		topLevel := lex.atTopLevel() && line != "" && line[0] != ' ' && line[0] != '\t'
		trimmed := strings.TrimSpace(line)
		blank := trimmed == ""

		if topLevel && !blank && hasContent && !prevDecor && !continuation.MatchString(trimmed) {
			if prevBlank || prevNested || blockOpener.MatchString(trimmed) || strings.HasPrefix(trimmed, "@") {
				chunks = append(chunks, current.String())
				current.Reset()
				hasContent = false
			}
		}

		current.WriteString(line)
		lex.scan(line)

		if !blank {
			hasContent = true
			prevNested = !topLevel || endsBlock(trimmed)
			prevDecor = topLevel && strings.HasPrefix(trimmed, "@")
		}
		prevBlank = blank && topLevel
	}

	if current.Len() > 0 {
		if hasContent || len(chunks) == 0 {
			chunks = append(chunks, current.String())
		} else {
			// trailing blank lines belong to the last chunk
			chunks[len(chunks)-1] += current.String()
		}
	}
	return chunks
}

// endsBlock reports whether a top-level line closes a bracketed block, as
// in the `}` after a JavaScript function body.
func endsBlock(trimmed string) bool {
	return strings.HasPrefix(trimmed, "}") || strings.HasPrefix(trimmed, "]") || strings.HasPrefix(trimmed, ")")
}

// Coalesce merges neighbouring chunks so that at most limit remain. Chunks
// are grouped evenly and in order; the concatenation is unchanged.
func Coalesce(chunks []string, limit int) []string {
	n := len(chunks)
	if limit <= 0 || n <= limit {
		return chunks
	}

	out := make([]string, 0, limit)
	for g := 0; g < limit; g++ {
		lo, hi := g*n/limit, (g+1)*n/limit
		out = append(out, strings.Join(chunks[lo:hi], ""))
	}
	return out
}

// lexer tracks bracket depth and open multi-line strings or comments
// across lines.
type lexer struct {
	syntax Syntax
	depth  int
	// closer is the delimiter that ends the open multi-line string or
	// block comment, empty when none is open.
	closer string
}

func (l *lexer) atTopLevel() bool {
	return l.depth == 0 && l.closer == ""
}

func (l *lexer) scan(line string) {
	i := 0
	for i < len(line) {
		if l.closer != "" {
			end := strings.Index(line[i:], l.closer)
			if end < 0 {
				return
			}
			i += end + len(l.closer)
			l.closer = ""
			continue
		}

		rest := line[i:]
		if l.isLineComment(line, i) {
			return
		}
		if open := l.syntax.BlockComment[0]; open != "" && strings.HasPrefix(rest, open) {
			l.closer = l.syntax.BlockComment[1]
			i += len(open)
			continue
		}
		if q := l.multiLineQuote(rest); q != "" {
			l.closer = q
			i += len(q)
			continue
		}

		switch c := line[i]; c {
		case '"', '\'':
			i = skipString(line, i)
			continue
		case '(', '[', '{':
			l.depth++
		case ')', ']', '}':
			if l.depth > 0 {
				l.depth--
			}
		}
		i++
	}
}

func (l *lexer) isLineComment(line string, i int) bool {
	for _, marker := range l.syntax.LineComments {
		if !strings.HasPrefix(line[i:], marker) {
			continue
		}
		// `#` only starts a comment at a word boundary, so `this.#x` is code
		if marker == "#" && i > 0 && line[i-1] != ' ' && line[i-1] != '\t' {
			continue
		}
		return true
	}
	return false
}

func (l *lexer) multiLineQuote(rest string) string {
	for _, q := range l.syntax.MultiLineQuotes {
		if strings.HasPrefix(rest, q) {
			return q
		}
	}
	return ""
}

// skipString returns the index just past the single-line string literal
// starting at line[start]. An unterminated literal ends with the line.
func skipString(line string, start int) int {
	quote := line[start]
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		case '\n':
			return i
		}
	}
	return len(line)
}
