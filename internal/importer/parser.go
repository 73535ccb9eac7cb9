package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/xuri/excelize/v2"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ParsedRow is one non-blank source row keyed by header name. Numbering
// starts at 2 (row 1 is the header) and increments per parsed non-blank row.
type ParsedRow struct {
	Number int
	Values map[string]string
}

// ParsedFile is the decoded upload payload.
type ParsedFile struct {
	Headers []string
	Rows    []ParsedRow
	Size    int64
}

// FileParser decodes CSV/XLSX payloads into header-keyed rows while
// enforcing the template's size and row-count ceilings.
type FileParser struct{}

// NewFileParser creates a parser.
func NewFileParser() *FileParser {
	return &FileParser{}
}

// Parse decodes the payload. Failures are structural: the returned error is
// always a ServiceError carrying one of INVALID_FILE_FORMAT, FILE_TOO_LARGE,
// MISSING_REQUIRED_COLUMN (empty header) or ROW_LIMIT_EXCEEDED.
func (p *FileParser) Parse(payload []byte, format domain.FileFormat, maxRows int, maxFileSize int64) (ParsedFile, error) {
	size := int64(len(payload))
	if size == 0 {
		return ParsedFile{}, NewServiceError(domain.IssueCodeInvalidFileFormat, "file is empty")
	}
	if maxFileSize > 0 && size > maxFileSize {
		return ParsedFile{}, NewServiceError(domain.IssueCodeFileTooLarge,
			fmt.Sprintf("file size %d exceeds limit of %d bytes", size, maxFileSize))
	}

	var (
		records [][]string
		err     error
	)
	switch format {
	case domain.FileFormatCSV:
		records, err = readCSV(payload)
	case domain.FileFormatXLSX:
		records, err = readXLSX(payload)
	default:
		return ParsedFile{}, NewServiceError(domain.IssueCodeInvalidFileFormat,
			fmt.Sprintf("unsupported file format %q", format))
	}
	if err != nil {
		return ParsedFile{}, err
	}

	return buildTable(records, size, maxRows)
}

func readCSV(payload []byte) ([][]string, error) {
	if bytes.HasPrefix(payload, byteOrderMark) {
		payload = payload[len(byteOrderMark):]
	}
	// UTF-8 with optional BOM, falling back to Latin-1 for legacy exports.
	if !utf8.Valid(payload) {
		payload = latin1ToUTF8(payload)
	}

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, NewServiceError(domain.IssueCodeInvalidFileFormat, "failed to read csv").WithCause(err)
	}
	return records, nil
}

func readXLSX(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, NewServiceError(domain.IssueCodeInvalidFileFormat, "failed to open xlsx").WithCause(err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, NewServiceError(domain.IssueCodeInvalidFileFormat, "xlsx file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, NewServiceError(domain.IssueCodeInvalidFileFormat, "failed to read rows from xlsx").WithCause(err)
	}
	return rows, nil
}

func buildTable(records [][]string, size int64, maxRows int) (ParsedFile, error) {
	var headerRow []string
	headerFound := false
	dataRows := make([][]string, 0, len(records))

	for _, record := range records {
		if isBlankRow(record) {
			continue
		}
		if !headerFound {
			headerRow = record
			headerFound = true
			continue
		}
		dataRows = append(dataRows, record)
	}

	if !headerFound {
		return ParsedFile{}, NewServiceError(domain.IssueCodeMissingRequiredColumn, "no header row detected")
	}

	// Columns with a blank header are dropped rather than misaligned, so an
	// unrelated leading blank column does not shift values under the wrong
	// name.
	headers := make([]string, 0, len(headerRow))
	columnIndexes := make([]int, 0, len(headerRow))
	for idx, cell := range headerRow {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		headers = append(headers, name)
		columnIndexes = append(columnIndexes, idx)
	}
	if len(headers) == 0 {
		return ParsedFile{}, NewServiceError(domain.IssueCodeMissingRequiredColumn, "header row has no named columns")
	}

	if maxRows > 0 && len(dataRows) > maxRows {
		return ParsedFile{}, NewServiceError(domain.IssueCodeRowLimitExceeded,
			fmt.Sprintf("file contains %d rows, limit is %d", len(dataRows), maxRows))
	}

	rows := make([]ParsedRow, 0, len(dataRows))
	rowNumber := 2 // row 1 is reserved for the header
	for _, record := range dataRows {
		values := make(map[string]string, len(headers))
		for i, header := range headers {
			colIdx := columnIndexes[i]
			if colIdx < len(record) {
				values[header] = strings.TrimSpace(record[colIdx])
			} else {
				values[header] = ""
			}
		}
		rows = append(rows, ParsedRow{Number: rowNumber, Values: values})
		rowNumber++
	}

	return ParsedFile{Headers: headers, Rows: rows, Size: size}, nil
}

func isBlankRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func latin1ToUTF8(payload []byte) []byte {
	buf := make([]rune, len(payload))
	for i, b := range payload {
		buf[i] = rune(b)
	}
	return []byte(string(buf))
}
