package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// A .docx file is a ZIP archive of WordprocessingML parts. Text lives in
// word/document.xml as <w:p> paragraphs containing <w:t> runs; descriptive
// properties live in docProps/core.xml. Both are small enough to decode
// directly with encoding/xml.

// docxDocument maps the subset of word/document.xml we need: the paragraph
// list, each with its text runs.
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text string `xml:"t"`
	} `xml:"r"`
}

// docxCoreProps maps docProps/core.xml Dublin Core properties.
type docxCoreProps struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Subject  string `xml:"subject"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
}

// textFromDocx extracts paragraph text from word/document.xml, one paragraph
// per line.
func textFromDocx(path string) (string, error) {
	doc, err := readDocxDocument(path)
	if err != nil {
		return "", &ExtractionError{Format: FormatDocx, Path: path, Err: err}
	}

	var b strings.Builder
	for i, p := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, r := range p.Runs {
			b.WriteString(r.Text)
		}
	}
	return b.String(), nil
}

// metadataFromDocx reads the paragraph count and core document properties.
func metadataFromDocx(path string) (map[string]string, error) {
	doc, err := readDocxDocument(path)
	if err != nil {
		return nil, fmt.Errorf("extract: failed to read docx %s: %w", path, err)
	}

	meta := map[string]string{
		"paragraph_count": fmt.Sprintf("%d", len(doc.Body.Paragraphs)),
	}

	// Core properties are optional in the archive.
	props, err := readDocxCoreProps(path)
	if err != nil {
		return meta, nil
	}
	for field, v := range map[string]string{
		"title":    props.Title,
		"author":   props.Creator,
		"subject":  props.Subject,
		"created":  props.Created,
		"modified": props.Modified,
	} {
		if v != "" {
			meta[field] = v
		}
	}
	return meta, nil
}

// readDocxDocument opens the archive and decodes word/document.xml.
func readDocxDocument(path string) (*docxDocument, error) {
	data, err := readZipPart(path, "word/document.xml")
	if err != nil {
		return nil, err
	}
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid document.xml: %w", err)
	}
	return &doc, nil
}

// readDocxCoreProps opens the archive and decodes docProps/core.xml.
func readDocxCoreProps(path string) (*docxCoreProps, error) {
	data, err := readZipPart(path, "docProps/core.xml")
	if err != nil {
		return nil, err
	}
	var props docxCoreProps
	if err := xml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("invalid core.xml: %w", err)
	}
	return &props, nil
}

// readZipPart returns the contents of a single named file inside a ZIP archive.
func readZipPart(path, name string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("not a zip archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing %s", name)
}
