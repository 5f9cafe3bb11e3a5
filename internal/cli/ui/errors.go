package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures a formatted message
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Detail       string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError renders a message with optional suggestions and help commands
//
// Example output:
//
//	❌ UNKNOWN PROPERTY: Group.peple_count
//
//	   Did you mean: people_count?
//
//	   → List properties: prepared list Group
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var header, body *color.Color
	var symbol string
	switch opts.Level {
	case ErrorLevelWarning:
		header, body, symbol = color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "⚠️"
	case ErrorLevelInfo:
		header, body, symbol = color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "ℹ️"
	default:
		header, body, symbol = color.New(color.FgRed, color.Bold), color.New(color.FgRed), "❌"
	}
	hint := color.New(color.FgYellow)
	help := color.New(color.FgCyan)
	if opts.NoColor {
		for _, c := range []*color.Color{header, body, hint, help} {
			c.DisableColor()
		}
	}

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Detail != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(opts.Detail, "\n") {
			body.Fprintf(&b, "   %s\n", line)
		}
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		hint.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		for _, cmd := range opts.HelpCommands {
			help.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted message to w
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess renders a one-line success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// PropertyNotFoundError reports a property that resource does not declare
func PropertyNotFoundError(resource, name string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "UNKNOWN PROPERTY",
		Problem:     resource + "." + name,
		Suggestions: suggestions,
		HelpCommands: []string{
			"List properties: prepared list " + resource,
		},
		NoColor: noColor,
	})
}

// ResourceNotFoundError reports a resource the manifest does not declare
func ResourceNotFoundError(resource string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "UNKNOWN RESOURCE",
		Problem:     resource,
		Suggestions: suggestions,
		HelpCommands: []string{
			"List resources: prepared list",
		},
		NoColor: noColor,
	})
}

// ManifestError reports a manifest that could not be loaded or built
func ManifestError(path string, err error, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelError,
		Context: "INVALID MANIFEST",
		Problem: path,
		Detail:  err.Error(),
		HelpCommands: []string{
			"Choose a manifest: prepared --manifest <file>",
		},
		NoColor: noColor,
	})
}

// PrepareError reports properties that could not be resolved or applied
func PrepareError(err error, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelError,
		Context: "PREPARE FAILED",
		Problem: err.Error(),
		HelpCommands: []string{
			"Inspect the order: prepared resolve <resource> <property>...",
		},
		NoColor: noColor,
	})
}

// Warning renders a warning with optional suggestions
func Warning(message string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelWarning,
		Problem:     message,
		Suggestions: suggestions,
		NoColor:     noColor,
	})
}
