package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var allExts = []string{".txt", ".md", ".docx", ".pdf"}

func TestPlainTextUTF8AndCP1251(t *testing.T) {
	d := NewDocuments(allExts, 0)

	got, err := d.Text("a.txt", []byte("\xef\xbb\xbfРемонт линии 66\r\nс 12.05"))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "Ремонт линии 66\nс 12.05" {
		t.Errorf("unexpected utf8 text %q", got)
	}

	encoded, err := charmap.Windows1251.NewEncoder().String("Профилактика линии 12")
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	got, err = d.Text("b.md", []byte(encoded))
	if err != nil {
		t.Fatalf("Text cp1251: %v", err)
	}
	if got != "Профилактика линии 12" {
		t.Errorf("unexpected cp1251 text %q", got)
	}
}

func makeDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDocxParagraphs(t *testing.T) {
	data := makeDocx(t, `<w:p><w:r><w:t>Протокол 2026</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t xml:space="preserve">Ремонт </w:t></w:r><w:r><w:t>линии 66</w:t></w:r></w:p>`)
	got, err := NewDocuments(allExts, 0).Text("minutes.docx", data)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "Протокол 2026\nРемонт линии 66" {
		t.Errorf("unexpected docx text %q", got)
	}

	if _, err := (DocxReader{}).Text([]byte("not a zip")); err == nil {
		t.Error("expected error for invalid docx")
	}
}

func TestPDFInvalidDoesNotPanic(t *testing.T) {
	if _, err := (PDFReader{}).Text([]byte("%PDF-1.4 garbage")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestCheckTypeAndSize(t *testing.T) {
	d := NewDocuments([]string{".TXT"}, 10)
	if err := d.Check("a.exe", 1); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if err := d.Check("a.docx", 1); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("disabled extension should be unsupported, got %v", err)
	}
	if err := d.Check("a.txt", 11); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if err := d.Check("A.TXT", 10); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDiscoverSkipsHidden(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.txt", "b")
	write("sub/a.md", "a")
	write(".hidden.txt", "h")
	write(".git/c.txt", "c")
	write("image.png", "p")

	files, problems, err := NewDocuments(allExts, 0).Discover(context.Background(), root)
	if err != nil || len(problems) != 0 {
		t.Fatalf("Discover: %v %v", err, problems)
	}
	want := []string{filepath.Join(root, "b.txt"), filepath.Join(root, "sub", "a.md")}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	text, err := NewDocuments(allExts, 0).ReadFile(files[0])
	if err != nil || text != "b" {
		t.Errorf("ReadFile = %q, %v", text, err)
	}
}

func TestReadCSVDetectsDelimiter(t *testing.T) {
	rows, err := ReadTable("plan.csv", []byte("Произ. Задание;Продукт;Начало выполнения;Завершение выполнения\n"+
		"З-1; Клубника ;01.01.2026;30.04.2026\n;;;\nЗ-2;Малина;30.04.2026;31.07.2026\n"))
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d: %v", len(rows), rows)
	}
	if rows[1][1] != "Клубника" || rows[2][3] != "31.07.2026" {
		t.Errorf("unexpected rows %v", rows)
	}

	rows, err = ReadTable("plan.CSV", []byte("task,product,start,end\nT1,P1,2026-01-01,2026-01-05\n"))
	if err != nil || len(rows) != 2 || rows[1][2] != "2026-01-01" {
		t.Fatalf("comma csv: %v %v", rows, err)
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	values := [][]any{
		{"Произ. Задание", "Продукт", "Начало выполнения", "Завершение выполнения"},
		{"З-1", "Клубника", "01.01.2026", 46142},
	}
	for r, row := range values {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	rows, err := ReadTable("plan.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "Произ. Задание" || rows[1][2] != "01.01.2026" || rows[1][3] != "46142" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestReadTableUnsupported(t *testing.T) {
	if _, err := ReadTable("plan.ods", nil); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if !strings.HasPrefix(TableExtensions[0], ".") {
		t.Fatal("extensions must carry a dot")
	}
}

// unreadableFS fails to list one directory.
type unreadableFS struct {
	fstest.MapFS
	bad string
}

func (f unreadableFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == f.bad {
		return nil, &fs.PathError{Op: "readdirent", Path: name, Err: fs.ErrPermission}
	}
	return f.MapFS.ReadDir(name)
}

func TestDiscoverSkipsUnreadableDirectory(t *testing.T) {
	fsys := unreadableFS{
		MapFS: fstest.MapFS{
			"a.txt":        {Data: []byte("a")},
			"locked/b.txt": {Data: []byte("b")},
			"open/c.pdf":   {Data: []byte("c")},
		},
		bad: "locked",
	}
	files, problems, err := NewDocuments(allExts, 0).DiscoverFS(context.Background(), fsys)
	if err != nil {
		t.Fatalf("an unreadable subdirectory must not abort discovery: %v", err)
	}
	if len(files) != 2 || files[0] != "a.txt" || files[1] != "open/c.pdf" {
		t.Errorf("unexpected files %v", files)
	}
	if len(problems) != 1 || problems[0].Path != "locked" || !errors.Is(problems[0].Err, fs.ErrPermission) {
		t.Errorf("unexpected problems %+v", problems)
	}
}

func TestDiscoverMissingRootFails(t *testing.T) {
	_, _, err := NewDocuments(allExts, 0).Discover(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected an error for a missing root")
	}
}
