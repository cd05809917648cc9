// Package extract converts uploaded document files (txt, pdf, docx) into
// plain text and best-effort descriptive metadata for downstream chunking.
//
// Extraction errors are typed: [ErrUnsupportedFormat] for unknown format tags
// and [*ExtractionError] for parse failures, so callers can distinguish
// operator mistakes from corrupt files. Metadata extraction never fails hard —
// a document with an unreadable Info dictionary still processes fine.
package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Format identifies a supported document file format.
type Format string

// Supported document formats. Matching is case-insensitive and a leading dot
// is tolerated, so "PDF" and ".pdf" both resolve to FormatPDF.
const (
	FormatTxt  Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
)

// ErrUnsupportedFormat is returned when the requested format has no extractor.
var ErrUnsupportedFormat = errors.New("extract: unsupported file format")

// ExtractionError reports a failure to parse a document of a known format.
type ExtractionError struct {
	// Format is the document format being extracted.
	Format Format
	// Path is the file path that failed.
	Path string
	// Err is the underlying parse error.
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: failed to extract %s text from %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ParseFormat normalises a file-type tag to a [Format].
// Returns [ErrUnsupportedFormat] for anything other than txt, pdf, docx/doc.
func ParseFormat(tag string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(tag, ".")) {
	case "txt", "text":
		return FormatTxt, nil
	case "pdf":
		return FormatPDF, nil
	case "docx", "doc":
		return FormatDocx, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, tag)
	}
}

// Text extracts the full plain text of the file at path in the given format.
func Text(path string, format Format) (string, error) {
	switch format {
	case FormatTxt:
		return textFromTxt(path)
	case FormatPDF:
		return textFromPDF(path)
	case FormatDocx:
		return textFromDocx(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Metadata returns best-effort descriptive fields for the file at path.
// Failures are reported as an error but callers are expected to log and
// continue — metadata is advisory, never load-bearing.
func Metadata(path string, format Format) (map[string]string, error) {
	switch format {
	case FormatTxt:
		return metadataFromTxt(path)
	case FormatPDF:
		return metadataFromPDF(path)
	case FormatDocx:
		return metadataFromDocx(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// textFromTxt reads the whole file as UTF-8 text.
func textFromTxt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Format: FormatTxt, Path: path, Err: err}
	}
	return string(data), nil
}

// metadataFromTxt reports the byte size and line count of a text file.
func metadataFromTxt(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: failed to stat text file %s: %w", path, err)
	}
	lines := strings.Count(string(data), "\n")
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		lines++
	}
	return map[string]string{
		"size_bytes": fmt.Sprintf("%d", len(data)),
		"line_count": fmt.Sprintf("%d", lines),
	}, nil
}
