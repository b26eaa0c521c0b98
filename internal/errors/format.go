package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style selects how Print renders an error.
type Style uint8

const (
	StyleText    Style = iota // multi-line report with source context
	StyleCompact              // file:line: CODE: message
	StyleJSON                 // one JSON object per line
)

// ParseStyle maps an --error-format value to a Style.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return StyleText, nil
	case "compact":
		return StyleCompact, nil
	case "json":
		return StyleJSON, nil
	}
	return StyleText, fmt.Errorf("unknown error format %q (want text, compact or json)", s)
}

var (
	headStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	codeStyle   = lipgloss.NewStyle().Bold(true)
	placeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	gutterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	causeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

var colorEnabled = true

// DisableColors turns terminal styling off.
func DisableColors() { colorEnabled = false }

// EnableColors turns terminal styling back on. lipgloss still drops it when
// the output is not a terminal.
func EnableColors() { colorEnabled = true }

func paint(s lipgloss.Style, text string) string {
	if !colorEnabled {
		return text
	}
	return s.Render(text)
}

// Format renders the error for a terminal.
func (e *Error) Format() string {
	var b strings.Builder

	head := "ERROR:"
	if e.Code != "" {
		head = "ERROR " + e.Code + ":"
	}
	fmt.Fprintf(&b, "\n%s %s\n\n", paint(headStyle, head), paint(codeStyle, e.Message))

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s\n\n", paint(placeStyle, e.Location.String()))
		if len(e.Context) > 0 {
			e.writeContext(&b)
			b.WriteString("\n")
		}
	}

	if lines := wrapText(e.Detail, 70); len(lines) > 0 {
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s %s\n\n", paint(placeStyle, "Hint:"), e.Suggestion)
	}
	if e.Example != "" {
		fmt.Fprintf(&b, "  %s\n", paint(placeStyle, "Example:"))
		for _, line := range strings.Split(e.Example, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
		b.WriteString("\n")
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s %s\n", paint(causeStyle, "Cause:"), e.Wrapped.Error())
	}
	return b.String()
}

// writeContext prints the lines around Location, marking the offending one
// and, when known, its column.
func (e *Error) writeContext(b *strings.Builder) {
	first := e.Location.Line - len(e.Context)/2
	bar := paint(gutterStyle, " | ")
	for i, line := range e.Context {
		n := first + i
		if n != e.Location.Line {
			fmt.Fprintf(b, "    %4d%s%s\n", n, bar, line)
			continue
		}
		fmt.Fprintf(b, "  %s %4d%s%s\n", paint(headStyle, ">"), n, bar, line)
		if col := e.Location.Column; col > 0 {
			fmt.Fprintf(b, "        %s%s%s\n", paint(gutterStyle, "| "), strings.Repeat(" ", col-1), paint(headStyle, "^"))
		}
	}
}

// FormatCompact returns the error on one line, prefixed with its location.
func (e *Error) FormatCompact() string {
	parts := make([]string, 0, 3)
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	return strings.Join(append(parts, e.Message), ": ")
}

type jsonError struct {
	Code       string    `json:"code,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// FormatJSON returns the error as a single-line JSON object.
func (e *Error) FormatJSON() string {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Location:   e.Location,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"message":%q}`, e.Error())
	}
	return string(data)
}

// wrapText breaks text into lines of at most width bytes, splitting on
// whitespace. A single word longer than width gets its own line.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := make([]string, 0, len(text)/width+1)
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}

// Print writes err to w in the given style. Errors without a code are
// printed with the same shape and no explanation.
func Print(w io.Writer, err error, style Style) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Message: err.Error()}
	}
	switch style {
	case StyleCompact:
		fmt.Fprintln(w, e.FormatCompact())
	case StyleJSON:
		fmt.Fprintln(w, e.FormatJSON())
	default:
		fmt.Fprint(w, e.Format())
	}
}

// PrintError writes err to w for a terminal.
func PrintError(w io.Writer, err error) {
	Print(w, err, StyleText)
}
