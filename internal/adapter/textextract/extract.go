// Package textextract converts uploaded documents to bounded plain text.
//
// Plain text and CSV are handled natively; pdf/docx/xlsx are delegated to an
// Apache Tika server. All outputs are capped so a single upload can never
// blow up the prompt budget downstream.
package textextract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// Extraction limits.
const (
	MaxFileBytes   = 5 << 20 // 5 MB
	MaxChars       = 20000
	MaxCSVRows     = 100
	MaxPDFPages    = 20
	MaxExcelRows   = 100
	MaxExcelSheets = 2
	PreviewRows    = 10
	truncateMarker = "\n[Truncated]"
)

// pdfPageRe matches page object declarations. /Page must not swallow the
// /Pages tree node.
var pdfPageRe = regexp.MustCompile(`/Type\s*/Page[^s]`)

// allowedExtensions is the upload allowlist.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".csv":  true,
	".docx": true,
	".xlsx": true,
}

// Extractor implements domain.TextExtractor.
type Extractor struct {
	tikaURL    string
	httpClient *http.Client
}

// New constructs an Extractor delegating binary formats to Tika.
func New(tikaURL string) *Extractor {
	return &Extractor{
		tikaURL:    strings.TrimRight(tikaURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Extract converts an upload to plain text within the configured limits.
func (e *Extractor) Extract(ctx domain.Context, name string, data []byte) (domain.ExtractedText, error) {
	if len(data) == 0 {
		return domain.ExtractedText{}, fmt.Errorf("%w: empty file", domain.ErrInvalidArgument)
	}
	if len(data) > MaxFileBytes {
		return domain.ExtractedText{}, fmt.Errorf("%w: file exceeds %d MB limit", domain.ErrInvalidArgument, MaxFileBytes>>20)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return domain.ExtractedText{}, fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidArgument, ext)
	}

	fileType := strings.TrimPrefix(ext, ".")
	switch ext {
	case ".txt":
		return capText(extractPlainText(data), "", fileType), nil
	case ".csv":
		text, preview, err := extractCSV(data)
		if err != nil {
			return domain.ExtractedText{}, err
		}
		return capText(text, preview, fileType), nil
	default:
		if ext == ".pdf" {
			if n := pdfPageCount(data); n > MaxPDFPages {
				return domain.ExtractedText{}, fmt.Errorf("%w: pdf has %d pages, limit is %d",
					domain.ErrInvalidArgument, n, MaxPDFPages)
			}
		}
		text, err := e.extractViaTika(ctx, name, data)
		if err != nil {
			return domain.ExtractedText{}, err
		}
		var (
			preview   string
			rowCapped bool
		)
		if ext == ".xlsx" {
			// Tika flattens sheets to one row per line; capping lines
			// bounds the same work the per-sheet row limit bounds.
			text, rowCapped = capLines(text, MaxExcelRows*MaxExcelSheets)
			preview = linesPreview(text, PreviewRows)
		}
		out := capText(text, preview, fileType)
		if rowCapped {
			out.Truncated = true
		}
		return out, nil
	}
}

// pdfPageCount counts page objects by scanning the raw bytes. PDFs that pack
// their page tree into compressed object streams count as zero; the char cap
// is the backstop there.
func pdfPageCount(data []byte) int {
	return len(pdfPageRe.FindAll(data, -1))
}

func extractPlainText(data []byte) string {
	// Drop invalid UTF-8 rather than poisoning the prompt.
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("�"))
	}
	return string(data)
}

// extractCSV renders at most MaxCSVRows rows as tab-joined lines and builds
// a small markdown preview table of the first rows.
func extractCSV(data []byte) (text, preview string, err error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var (
		lines     []string
		mdRows    []string
		truncated bool
	)
	for i := 0; ; i++ {
		record, readErr := r.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", "", fmt.Errorf("%w: parse csv: %v", domain.ErrInvalidArgument, readErr)
		}
		if i >= MaxCSVRows {
			truncated = true
			break
		}
		lines = append(lines, strings.Join(record, "\t"))
		if i < PreviewRows {
			mdRows = append(mdRows, "| "+strings.Join(record, " | ")+" |")
			if i == 0 {
				sep := make([]string, len(record))
				for j := range sep {
					sep[j] = "---"
				}
				mdRows = append(mdRows, "| "+strings.Join(sep, " | ")+" |")
			}
		}
	}
	text = strings.Join(lines, "\n")
	if truncated {
		text += truncateMarker
	}
	return text, strings.Join(mdRows, "\n"), nil
}

// extractViaTika uploads the document and reads back plain text.
func (e *Extractor) extractViaTika(ctx domain.Context, name string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.tikaURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("op=textextract.tika: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	if ct := contentType(name, data); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=textextract.tika: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("op=textextract.tika: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileBytes))
	if err != nil {
		return "", fmt.Errorf("op=textextract.tika: read: %w", err)
	}
	return normalizeWhitespace(string(b)), nil
}

// contentType prefers content sniffing over the file extension.
func contentType(name string, data []byte) string {
	if mt := mimetype.Detect(data); mt != nil && mt.String() != "application/octet-stream" {
		return mt.String()
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return ""
}

// normalizeWhitespace collapses runs of blank lines while preserving line
// structure for downstream chunking.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// capLines keeps at most n lines, marking the cut.
func capLines(text string, n int) (string, bool) {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text, false
	}
	return strings.Join(lines[:n], "\n") + truncateMarker, true
}

func linesPreview(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func capText(text, preview, fileType string) domain.ExtractedText {
	truncated := false
	if len(text) > MaxChars {
		text = text[:MaxChars] + truncateMarker
		truncated = true
	}
	return domain.ExtractedText{
		Text:      text,
		Preview:   preview,
		FileType:  fileType,
		Truncated: truncated,
	}
}

var _ domain.TextExtractor = (*Extractor)(nil)
