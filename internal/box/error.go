package box

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Location is a single point in a source file. Line and Column are 1-based,
// Offset is the 0-based byte offset.
type Location struct {
	Filename string
	Offset   int
	Line     int
	Column   int
}

func (l Location) String() string {
	if l.Filename != "" {
		return fmt.Sprintf("%s:%d:%d", l.Filename, l.Line, l.Column)
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Span is a half-open source range.
type Span struct {
	Start Location
	End   Location
}

func (s Span) String() string {
	return s.Start.String()
}

// Join returns the smallest span covering s and o.
func (s Span) Join(o Span) Span {
	out := s
	if o.Start.Offset < out.Start.Offset {
		out.Start = o.Start
	}
	if o.End.Offset > out.End.Offset {
		out.End = o.End
	}
	return out
}

// ErrorKind classifies a compilation failure. Every pass owns its kinds.
type ErrorKind int

const (
	LexError ErrorKind = iota
	StructureError
	UnbalancedStructureError
	UnboundNameError
	CrossBoxReferenceError
	LoweringError
)

func (k ErrorKind) String() string {
	switch k {
	case LexError:
		return "LexError"
	case StructureError:
		return "StructureError"
	case UnbalancedStructureError:
		return "UnbalancedStructureError"
	case UnboundNameError:
		return "UnboundNameError"
	case CrossBoxReferenceError:
		return "CrossBoxReferenceError"
	case LoweringError:
		return "LoweringError"
	default:
		return "UnknownError"
	}
}

// Pass names the pipeline stage that produced an error.
func (k ErrorKind) Pass() string {
	switch k {
	case LexError:
		return "lex"
	case StructureError, UnbalancedStructureError:
		return "parse"
	case UnboundNameError, CrossBoxReferenceError:
		return "resolve"
	case LoweringError:
		return "lower"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind signals a compiler defect rather than a
// problem in the source program.
func (k ErrorKind) Fatal() bool {
	return k == LoweringError
}

// Sentinels for errors.Is.
var (
	ErrLex        = errors.New("lex error")
	ErrStructure  = errors.New("structure error")
	ErrUnbalanced = errors.New("unbalanced structure error")
	ErrUnbound    = errors.New("unbound name error")
	ErrCrossBox   = errors.New("cross-box reference error")
	ErrLowering   = errors.New("lowering error")
)

var sentinels = map[ErrorKind]error{
	LexError:                 ErrLex,
	StructureError:           ErrStructure,
	UnbalancedStructureError: ErrUnbalanced,
	UnboundNameError:         ErrUnbound,
	CrossBoxReferenceError:   ErrCrossBox,
	LoweringError:            ErrLowering,
}

type BoxError struct {
	Kind    ErrorKind
	Message string
	Span    Span
	Help    string

	// Incomplete marks structure left open at end of input; more text could
	// still make the program valid.
	Incomplete bool
}

func (e *BoxError) Error() string {
	if e.Span.Start.Line > 0 {
		return fmt.Sprintf("%s: %s: %s", e.Span.Start, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BoxError) Unwrap() error {
	return sentinels[e.Kind]
}

// Pass is the stage that failed.
func (e *BoxError) Pass() string {
	return e.Kind.Pass()
}

func newError(kind ErrorKind, span Span, format string, args ...any) *BoxError {
	return &BoxError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	}
}

// KindOf extracts the kind of a compilation error. The second result is false
// for errors that did not come from the pipeline.
func KindOf(err error) (ErrorKind, bool) {
	var boxErr *BoxError
	if errors.As(err, &boxErr) {
		return boxErr.Kind, true
	}
	return 0, false
}

// IsIncomplete reports whether err was caused by input ending inside an open
// box, block or parenthesis.
func IsIncomplete(err error) bool {
	var boxErr *BoxError
	return errors.As(err, &boxErr) && boxErr.Incomplete
}

// FormatError renders err with a caret snippet. src is the source text the
// error refers to; when empty the file named in the span is read instead.
func FormatError(err *BoxError, src string) string {
	var b strings.Builder

	b.WriteString("✗ ")
	b.WriteString(err.Kind.String())
	b.WriteString(": ")
	b.WriteString(err.Message)
	b.WriteString("\n")

	loc := err.Span.Start
	if loc.Line == 0 {
		return b.String()
	}

	b.WriteString(fmt.Sprintf("  ╭─[%s]\n", loc))

	startLine, sourceLines := sourceContext(src, loc.Filename, loc.Line)
	if len(sourceLines) > 0 {
		b.WriteString("  │\n")
		for i, line := range sourceLines {
			lineNum := startLine + i
			b.WriteString(fmt.Sprintf("%3d│ %s\n", lineNum, line))
			if lineNum != loc.Line {
				continue
			}
			pad := caretPadding(line, loc.Column)
			b.WriteString("  │ ")
			b.WriteString(pad)
			b.WriteString("─┬─ here\n")
			b.WriteString("  │ ")
			b.WriteString(pad)
			b.WriteString(" ╰─ ")
			b.WriteString(err.Message)
			b.WriteString("\n")
		}
	}

	b.WriteString("  │\n")

	if err.Help != "" {
		b.WriteString("  │ 💡 Help: ")
		b.WriteString(err.Help)
		b.WriteString("\n")
		b.WriteString("  │\n")
	}

	return b.String()
}

// caretPadding keeps tabs so the caret lines up with the source line.
func caretPadding(line string, column int) string {
	var b strings.Builder
	for j := 0; j < column-1; j++ {
		if j < len(line) && line[j] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// sourceContext returns up to two lines before and after targetLine, along
// with the line number of the first returned line.
func sourceContext(src, filename string, targetLine int) (int, []string) {
	if src == "" && filename != "" {
		content, err := os.ReadFile(filename)
		if err != nil {
			return 0, nil
		}
		src = string(content)
	}

	lines := strings.Split(src, "\n")
	if targetLine < 1 || targetLine > len(lines) {
		return 0, nil
	}

	start := targetLine - 3
	if start < 0 {
		start = 0
	}
	end := targetLine + 2
	if end > len(lines) {
		end = len(lines)
	}

	return start + 1, lines[start:end]
}
