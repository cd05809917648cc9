package extract

import (
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// textFromPDF extracts the plain text of every page in reading order.
func textFromPDF(path string) (_ string, err error) {
	// The pdf package panics on some malformed files; convert to an error so
	// a corrupt upload cannot take down a processing worker.
	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{Format: FormatPDF, Path: path, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &ExtractionError{Format: FormatPDF, Path: path, Err: err}
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", &ExtractionError{Format: FormatPDF, Path: path, Err: err}
	}

	data, err := io.ReadAll(plain)
	if err != nil {
		return "", &ExtractionError{Format: FormatPDF, Path: path, Err: err}
	}
	return string(data), nil
}

// metadataFromPDF reads the page count and the document Info dictionary
// (title, author, subject, creator). Missing Info keys are simply omitted.
func metadataFromPDF(path string) (_ map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: pdf metadata panic for %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	meta := map[string]string{
		"page_count": fmt.Sprintf("%d", r.NumPage()),
	}

	info := r.Trailer().Key("Info")
	if !info.IsNull() {
		for key, field := range map[string]string{
			"Title":   "title",
			"Author":  "author",
			"Subject": "subject",
			"Creator": "creator",
		} {
			if v := info.Key(key).Text(); v != "" {
				meta[field] = v
			}
		}
	}
	return meta, nil
}
