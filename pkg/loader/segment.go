package loader

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// segmenter extracts top-level declarations from source code. simplified is
// the source with every extracted declaration replaced by a one-line
// "Code for:" comment.
type segmenter interface {
	Segment(code string) (units []string, simplified string, err error)
}

func segmenterFor(lang string) segmenter {
	switch lang {
	case "python":
		return pythonSegmenter{}
	case "go":
		return goSegmenter{}
	default:
		return nil
	}
}

// ---------- Go ----------

type goSegmenter struct{}

func (goSegmenter) Segment(code string) ([]string, string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", code, parser.ParseComments)
	if err != nil {
		return nil, "", err
	}

	type span struct{ start, end int }
	var spans []span
	for _, decl := range file.Decls {
		var start token.Pos
		switch d := decl.(type) {
		case *ast.FuncDecl:
			start = d.Pos()
			if d.Doc != nil {
				start = d.Doc.Pos()
			}
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			start = d.Pos()
			if d.Doc != nil {
				start = d.Doc.Pos()
			}
		default:
			continue
		}
		spans = append(spans, span{
			start: fset.Position(start).Offset,
			end:   fset.Position(decl.End()).Offset,
		})
	}

	var (
		units []string
		simpl bytes.Buffer
		last  int
	)
	for _, s := range spans {
		unit := code[s.start:s.end]
		units = append(units, unit)
		simpl.WriteString(code[last:s.start])
		fmt.Fprintf(&simpl, "// Code for: %s", signatureLine(unit, "//"))
		last = s.end
	}
	simpl.WriteString(code[last:])
	return units, simpl.String(), nil
}

// ---------- Python ----------

type pythonSegmenter struct{}

var errUnterminatedString = errors.New("unterminated triple-quoted string")

// Segment splits at column-zero def/class statements, attaching any
// decorators directly above them. Column-zero lines inside triple-quoted
// strings or open brackets do not end a block.
func (pythonSegmenter) Segment(code string) ([]string, string, error) {
	lines := strings.SplitAfter(code, "\n")
	inCode, err := pythonStructure(lines)
	if err != nil {
		return nil, "", err
	}

	type block struct{ start, header, end int }
	var blocks []block
	for i := 0; i < len(lines); i++ {
		if !inCode[i] || !isTopLevelDecl(lines[i]) {
			continue
		}
		start := i
		for start > 0 && inCode[start-1] && strings.HasPrefix(lines[start-1], "@") {
			start--
		}
		end := i + 1
		for end < len(lines) {
			l := lines[end]
			if inCode[end] && startsTopLevelStatement(l) {
				break
			}
			end++
		}
		for end > i+1 && strings.TrimSpace(lines[end-1]) == "" {
			end--
		}
		blocks = append(blocks, block{start: start, header: i, end: end})
		i = end - 1
	}

	var (
		units []string
		simpl strings.Builder
		last  int
	)
	for _, b := range blocks {
		units = append(units, strings.TrimRight(strings.Join(lines[b.start:b.end], ""), "\n"))
		simpl.WriteString(strings.Join(lines[last:b.start], ""))
		fmt.Fprintf(&simpl, "# Code for: %s\n", strings.TrimRight(lines[b.header], "\r\n"))
		last = b.end
	}
	simpl.WriteString(strings.Join(lines[last:], ""))
	return units, simpl.String(), nil
}

func isTopLevelDecl(line string) bool {
	return strings.HasPrefix(line, "def ") ||
		strings.HasPrefix(line, "async def ") ||
		strings.HasPrefix(line, "class ")
}

// startsTopLevelStatement reports a non-blank, non-comment line at column
// zero.
func startsTopLevelStatement(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '\n' || line[0] == '\r' {
		return false
	}
	return !strings.HasPrefix(line, "#")
}

// pythonStructure marks, for every line, whether it starts outside any
// string literal and bracket pair. It fails on constructs a parser would
// reject: unterminated triple-quoted strings and unbalanced brackets.
func pythonStructure(lines []string) ([]bool, error) {
	inCode := make([]bool, len(lines))
	var (
		quote string // active triple quote
		depth int
	)
	for i, line := range lines {
		inCode[i] = quote == "" && depth == 0
		for j := 0; j < len(line); j++ {
			c := line[j]
			if quote != "" {
				if c == '\\' {
					j++
					continue
				}
				if strings.HasPrefix(line[j:], quote) {
					j += len(quote) - 1
					quote = ""
				}
				continue
			}
			switch c {
			case '#':
				j = len(line)
			case '"', '\'':
				q := string(c)
				if strings.HasPrefix(line[j:], q+q+q) {
					quote = q + q + q
					j += 2
					continue
				}
				// single-line string; skip to its closing quote
				for j++; j < len(line) && line[j] != c && line[j] != '\n'; j++ {
					if line[j] == '\\' {
						j++
					}
				}
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
				if depth < 0 {
					return nil, fmt.Errorf("line %d: unmatched %q", i+1, c)
				}
			}
		}
	}
	if quote != "" {
		return nil, errUnterminatedString
	}
	if depth != 0 {
		return nil, fmt.Errorf("unclosed bracket at end of file")
	}
	return inCode, nil
}

// signatureLine returns the first line of unit that is not a comment.
func signatureLine(unit, comment string) string {
	for _, l := range strings.Split(unit, "\n") {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, comment) {
			continue
		}
		return strings.TrimSpace(strings.TrimSuffix(t, "{"))
	}
	return ""
}
