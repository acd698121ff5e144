package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

type DocumentKind string

const (
	KindPDF   DocumentKind = "pdf"
	KindSheet DocumentKind = "xlsx"
)

// documentTypes lists the media types accepted for each kind. Servers that
// answer with anything else are serving a page, not the file.
var documentTypes = map[DocumentKind][]string{
	KindPDF:   {"application/pdf", "application/octet-stream"},
	KindSheet: {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip", "application/octet-stream"},
}

// DocumentKindOf guesses from the URL's extension whether it points at a
// document that is read over HTTP rather than rendered. It returns "" for
// everything else.
func DocumentKindOf(rawURL string) DocumentKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf":
		return KindPDF
	case ".xlsx":
		return KindSheet
	}
	return ""
}

// FetchDocument downloads a document and returns its text. ok is false
// when the server says the resource is not a document of the expected kind.
func FetchDocument(ctx context.Context, client *http.Client, rawURL string) (text string, ok bool, err error) {
	kind := DocumentKindOf(rawURL)
	if kind == "" {
		return "", false, nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("fetch %s: HTTP %d", kind, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		accepted := false
		for _, t := range documentTypes[kind] {
			accepted = accepted || mt == t
		}
		if !accepted {
			return "", false, nil
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", kind, err)
	}

	switch kind {
	case KindSheet:
		text, err = SheetText(data)
	default:
		text, err = PDFText(data)
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// PDFText extracts the plain text of every page.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			fmt.Fprintf(&sb, "[Error reading page %d: %v]\n", i, err)
			continue
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n%s\n\n", i, strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n")))
	}
	return strings.TrimSpace(sb.String()), nil
}

// SheetText renders every sheet of a workbook as a Markdown table.
func SheetText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		switch {
		case err != nil:
			fmt.Fprintf(&sb, "--- Sheet: %s (error: %v) ---\n\n", sheet, err)
		case len(rows) == 0:
			fmt.Fprintf(&sb, "--- Sheet: %s (empty) ---\n\n", sheet)
		default:
			fmt.Fprintf(&sb, "--- Sheet: %s ---\n%s\n", sheet, markdownTable(rows))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// markdownTable uses the first row as the header and pads short rows.
func markdownTable(rows [][]string) string {
	cols := 0
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	cell := func(row []string, i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.ReplaceAll(strings.ReplaceAll(row[i], "|", `\|`), "\n", " ")
	}
	line := func(row []string) string {
		cells := make([]string, cols)
		for i := range cols {
			cells[i] = cell(row, i)
		}
		return "| " + strings.Join(cells, " | ") + " |\n"
	}

	var sb strings.Builder
	sb.WriteString(line(rows[0]))
	sb.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
	for _, row := range rows[1:] {
		sb.WriteString(line(row))
	}
	return sb.String()
}
