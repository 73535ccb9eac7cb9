package importer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/xuri/excelize/v2"
)

func TestParseCSVNumbersRowsFromTwo(t *testing.T) {
	payload := []byte("name,code\n\nAlpha,A1\n\nBeta,B2\n")

	parsed, err := NewFileParser().Parse(payload, domain.FileFormatCSV, 0, 0)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if len(parsed.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", parsed.Headers)
	}
	if len(parsed.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(parsed.Rows))
	}
	if parsed.Rows[0].Number != 2 || parsed.Rows[1].Number != 3 {
		t.Fatalf("blank rows must not consume row numbers, got %d and %d",
			parsed.Rows[0].Number, parsed.Rows[1].Number)
	}
	if parsed.Rows[1].Values["name"] != "Beta" {
		t.Fatalf("expected Beta, got %q", parsed.Rows[1].Values["name"])
	}
}

func TestParseCSVStripsBOMAndPadding(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name, code\nAlpha , A1\n")...)

	parsed, err := NewFileParser().Parse(payload, domain.FileFormatCSV, 0, 0)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if parsed.Headers[0] != "name" {
		t.Fatalf("BOM must be stripped from the first header, got %q", parsed.Headers[0])
	}
	if parsed.Rows[0].Values["code"] != "A1" {
		t.Fatalf("cell padding must be trimmed, got %q", parsed.Rows[0].Values["code"])
	}
}

func TestParseCSVDecodesLatin1Fallback(t *testing.T) {
	// "Müller" in ISO-8859-1; 0xFC is not valid UTF-8.
	payload := []byte("name\nM\xfcller\n")

	parsed, err := NewFileParser().Parse(payload, domain.FileFormatCSV, 0, 0)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if parsed.Rows[0].Values["name"] != "Müller" {
		t.Fatalf("expected latin-1 fallback decoding, got %q", parsed.Rows[0].Values["name"])
	}
}

func TestParseDropsBlankHeaderColumns(t *testing.T) {
	payload := []byte(",name,,code\nx,Alpha,y,A1\n")

	parsed, err := NewFileParser().Parse(payload, domain.FileFormatCSV, 0, 0)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(parsed.Headers) != 2 {
		t.Fatalf("blank header columns must be dropped, got %v", parsed.Headers)
	}
	if parsed.Rows[0].Values["name"] != "Alpha" || parsed.Rows[0].Values["code"] != "A1" {
		t.Fatalf("values landed under the wrong headers: %v", parsed.Rows[0].Values)
	}
}

func TestParseRejectsOversizeAndOverlongFiles(t *testing.T) {
	_, err := NewFileParser().Parse([]byte("name\nAlpha\n"), domain.FileFormatCSV, 0, 4)
	serviceErr, ok := AsServiceError(err)
	if !ok || serviceErr.Code != domain.IssueCodeFileTooLarge {
		t.Fatalf("expected FILE_TOO_LARGE, got %v", err)
	}

	_, err = NewFileParser().Parse([]byte("name\nAlpha\nBeta\n"), domain.FileFormatCSV, 1, 0)
	serviceErr, ok = AsServiceError(err)
	if !ok || serviceErr.Code != domain.IssueCodeRowLimitExceeded {
		t.Fatalf("expected ROW_LIMIT_EXCEEDED, got %v", err)
	}
}

func TestParseRejectsEmptyAndHeaderlessFiles(t *testing.T) {
	_, err := NewFileParser().Parse(nil, domain.FileFormatCSV, 0, 0)
	serviceErr, ok := AsServiceError(err)
	if !ok || serviceErr.Code != domain.IssueCodeInvalidFileFormat {
		t.Fatalf("expected INVALID_FILE_FORMAT for empty payload, got %v", err)
	}

	_, err = NewFileParser().Parse([]byte("\n\n  ,  \n"), domain.FileFormatCSV, 0, 0)
	if err == nil {
		t.Fatalf("expected error for file without named headers")
	}
	serviceErr, ok = AsServiceError(err)
	if !ok || serviceErr.Code != domain.IssueCodeMissingRequiredColumn {
		t.Fatalf("expected MISSING_REQUIRED_COLUMN, got %v", err)
	}

	_, err = NewFileParser().Parse([]byte("data"), domain.FileFormat("PDF"), 0, 0)
	if !errorHasCode(err, domain.IssueCodeInvalidFileFormat) {
		t.Fatalf("expected INVALID_FILE_FORMAT for unknown format, got %v", err)
	}
}

func TestParseXLSXFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetSheetRow(sheet, "A1", &[]string{"name", "code"})
	_ = f.SetSheetRow(sheet, "A2", &[]string{"Alpha", "A1"})
	_ = f.SetSheetRow(sheet, "A3", &[]string{"Beta", "B2"})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("failed to build xlsx fixture: %v", err)
	}

	parsed, err := NewFileParser().Parse(buf.Bytes(), domain.FileFormatXLSX, 0, 0)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(parsed.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(parsed.Rows))
	}
	if parsed.Rows[0].Values["name"] != "Alpha" || parsed.Rows[1].Values["code"] != "B2" {
		t.Fatalf("unexpected xlsx values: %v", parsed.Rows)
	}
}

func errorHasCode(err error, code domain.IssueCode) bool {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		return false
	}
	return serviceErr.Code == code
}
