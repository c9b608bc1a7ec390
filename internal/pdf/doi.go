// Package pdf recovers citation metadata from uploaded PDF files.
package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/matsen/litreview/internal/doi"
)

// maxScanPages bounds how far into a document the DOI search looks.
// Publishers print the DOI on the first page or two.
const maxScanPages = 3

// Document is what could be recovered from a PDF.
type Document struct {
	DOI   string // normalized, "" when none was found
	Title string // best-effort guess from the first page
}

// Inspect reads a PDF from memory and looks for its DOI and title.
// A PDF without a DOI is not an error; the returned Document has DOI "".
func Inspect(data []byte) (Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("reading PDF: %w", err)
	}
	return inspect(r), nil
}

// InspectFile is Inspect for a file on disk.
func InspectFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Inspect(data)
}

func inspect(r *pdf.Reader) Document {
	var doc Document
	pages := r.NumPage()
	if pages > maxScanPages {
		pages = maxScanPages
	}
	for i := 1; i <= pages; i++ {
		text := pageText(r, i)
		if text == "" {
			continue
		}
		if i == 1 {
			doc.Title = titleLine(text)
		}
		if d := findDOI(text); d != "" {
			doc.DOI = d
			break
		}
	}
	return doc
}

// pageText returns the plain text of page i, or "" when it cannot be read.
func pageText(r *pdf.Reader, i int) (text string) {
	// the PDF library panics on some malformed content streams
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	page := r.Page(i)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

// findDOI returns the first DOI in extracted page text.
// Text extraction often glues the DOI to the following word, so each line is
// tried on its own before falling back to the whole page.
func findDOI(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if d, ok := doi.Normalize(line, false); ok {
			return strings.TrimRight(d, ".,;:)")
		}
	}
	if d, ok := doi.Normalize(text, false); ok {
		return strings.TrimRight(d, ".,;:)")
	}
	return ""
}

// titleLine picks the first substantial line (likely title).
func titleLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 20 && !isHeaderLine(line) && !strings.Contains(strings.ToLower(line), "doi") {
			return line
		}
	}
	return ""
}

// isHeaderLine checks if a line is likely a header/footer.
func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "journal") {
		return true
	}
	if strings.Contains(lower, "volume") && strings.Contains(lower, "issue") {
		return true
	}
	if strings.Contains(lower, "copyright") {
		return true
	}
	if strings.Contains(lower, "article") && strings.Contains(lower, "published") {
		return true
	}
	return false
}
