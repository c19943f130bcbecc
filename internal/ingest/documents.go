// Package ingest reads the files linewatch consumes: minutes documents
// (plain text, Word, PDF) as text, and production plans (CSV, Excel) as
// rows. Only text content is used; layout is ignored.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrUnsupportedType is returned for files whose extension is not accepted.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned for files above the size limit.
	ErrTooLarge = errors.New("file too large")
)

// Reader turns the bytes of one document format into text.
type Reader interface {
	// CanHandle reports whether the reader supports the file extension.
	CanHandle(ext string) bool
	// Text extracts the document text.
	Text(data []byte) (string, error)
}

// PlainTextReader handles .txt and .md. Invalid UTF-8 is decoded as
// Windows-1251, the usual encoding of older Russian office files.
type PlainTextReader struct{}

func (PlainTextReader) CanHandle(ext string) bool { return ext == ".txt" || ext == ".md" }

func (PlainTextReader) Text(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding cp1251: %w", err)
	}
	return normalizeNewlines(string(decoded)), nil
}

// DocxReader extracts paragraph text from word/document.xml.
type DocxReader struct{}

func (DocxReader) CanHandle(ext string) bool { return ext == ".docx" }

func (DocxReader) Text(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &el); err == nil {
					out.WriteString(v)
				}
			case "tab":
				out.WriteByte('\t')
			case "br":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// PDFReader extracts page text. A page that fails to decode contributes no
// text instead of failing the document.
type PDFReader struct{}

func (PDFReader) CanHandle(ext string) bool { return ext == ".pdf" }

func (PDFReader) Text(data []byte) (text string, err error) {
	// The PDF library panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	var out strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		out.WriteString(pageText(r, i))
		out.WriteByte('\n')
	}
	return strings.TrimSpace(out.String()), nil
}

func pageText(r *pdf.Reader, i int) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return s
}

// DefaultReaders returns the readers for every supported document format.
func DefaultReaders() []Reader {
	return []Reader{PlainTextReader{}, DocxReader{}, PDFReader{}}
}

// Documents extracts text from minutes files, enforcing the accepted
// extensions and a size limit.
type Documents struct {
	readers    []Reader
	extensions map[string]bool
	maxBytes   int64
}

// NewDocuments creates a Documents extractor. Extensions are lower-case with
// a leading dot; maxBytes <= 0 disables the size check.
func NewDocuments(extensions []string, maxBytes int64) *Documents {
	d := &Documents{readers: DefaultReaders(), extensions: map[string]bool{}, maxBytes: maxBytes}
	for _, ext := range extensions {
		d.extensions[strings.ToLower(ext)] = true
	}
	return d
}

// Supported reports whether a file name has an accepted, readable extension.
func (d *Documents) Supported(name string) bool {
	return d.reader(name) != nil
}

func (d *Documents) reader(name string) Reader {
	ext := strings.ToLower(filepath.Ext(name))
	if !d.extensions[ext] {
		return nil
	}
	for _, r := range d.readers {
		if r.CanHandle(ext) {
			return r
		}
	}
	return nil
}

// Check validates type and size without reading content.
func (d *Documents) Check(name string, size int64) error {
	if d.reader(name) == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}
	if d.maxBytes > 0 && size > d.maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, d.maxBytes)
	}
	return nil
}

// Text extracts the text of an in-memory document.
func (d *Documents) Text(name string, data []byte) (string, error) {
	if err := d.Check(name, int64(len(data))); err != nil {
		return "", err
	}
	return d.reader(name).Text(data)
}

// ReadFile extracts the text of a document on disk.
func (d *Documents) ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if err := d.Check(path, info.Size()); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return d.reader(path).Text(data)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
