package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/reference"
)

// Constants for output formatting.
const (
	ListTitleMaxLen   = 70 // Used in reference listings
	DetailTextWrapLen = 68 // Wrap width for detail views
)

var (
	errorColor    = color.New(color.FgRed, color.Bold)
	warnColor     = color.New(color.FgYellow)
	okColor       = color.New(color.FgGreen)
	headerColor   = color.New(color.Bold)
	conflictLabel = color.New(color.FgYellow, color.Bold).Sprint("CONFLICT")
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		errorColor.Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, msg)
	} else {
		outputJSON(ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// fail exits with the code err's class maps to.
func fail(err error) {
	exitWithError(exitCode(err), "%v", err)
}

// output prints v as JSON, or calls human in human mode.
func output(v any, human func()) {
	if humanOutput {
		human()
		return
	}
	outputJSON(v)
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// wrapText wraps text to the specified width with indentation on subsequent lines.
func wrapText(text string, width int, indent string) string {
	if len(text) <= width {
		return text
	}

	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		switch {
		case line.Len() == 0:
			line.WriteString(word)
		case line.Len()+1+len(word) <= width:
			line.WriteString(" ")
			line.WriteString(word)
		default:
			lines = append(lines, line.String())
			line.Reset()
			line.WriteString(word)
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n"+indent)
}

// formatIDs formats ids as a comma-separated string.
func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

// printReferenceLine prints a one-line summary of ref.
func printReferenceLine(ref reference.Reference) {
	year := "n.d."
	if ref.Year != 0 {
		year = strconv.Itoa(ref.Year)
	}
	fmt.Printf("%6d  %s (%s)  %s", ref.ID, ref.AuthorsShort, year, truncateString(ref.Title, ListTitleMaxLen))
	if ref.InConflict {
		fmt.Printf("  %s", conflictLabel)
	}
	fmt.Println()
}

// printImportResult prints an import summary with its skipped rows.
func printImportResult(res *importer.Result) {
	headerColor.Printf("Batch %d", res.Batch.ID)
	fmt.Printf(" (%s, %s)\n", res.Batch.Source, res.Batch.Kind)
	okColor.Printf("  %d created", len(res.Created))
	fmt.Printf(", %d already in project, %d new identifiers\n", len(res.Attached), res.NewIdentifiers)
	for _, row := range res.Skipped {
		warnColor.Printf("  skipped %s\n", row.Error())
	}
	for _, row := range res.Unlinked {
		warnColor.Printf("  not linked %s\n", row.Error())
	}
	if len(res.Missing) > 0 {
		warnColor.Printf("  not found at %s: %s\n", res.Batch.Source, strings.Join(res.Missing, ", "))
	}
}
