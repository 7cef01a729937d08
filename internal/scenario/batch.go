package scenario

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// Format is a supported batch upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var mediaFormats = map[string]Format{
	"text/csv":                 FormatCSV,
	"application/csv":          FormatCSV,
	"application/vnd.ms-excel": FormatCSV,
	"application/json":         FormatJSON,
	"text/json":                FormatJSON,
}

// DetectFormat maps a declared content type to a Format. When no content type
// is declared, the file extension decides.
func DetectFormat(contentType, filename string) (Format, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return "", &UnsupportedFileTypeError{ContentType: contentType}
		}
		if f, ok := mediaFormats[strings.ToLower(mediaType)]; ok {
			return f, nil
		}
		return "", &UnsupportedFileTypeError{ContentType: contentType}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", &UnsupportedFileTypeError{FileName: filename}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseBatch splits an upload body into raw records in input order. Syntax
// errors that make the whole body unreadable wrap ErrMalformedUpload.
func ParseBatch(data []byte, format Format) ([]RawRecord, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	switch format {
	case FormatCSV:
		return parseCSV(data)
	case FormatJSON:
		return parseJSON(data)
	default:
		return nil, &UnsupportedFileTypeError{ContentType: string(format)}
	}
}

func parseCSV(data []byte) ([]RawRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []RawRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading CSV header: %v", ErrMalformedUpload, err)
	}

	records := []RawRecord{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading CSV: %v", ErrMalformedUpload, err)
		}
		line, _ := r.FieldPos(0)
		if blankRow(row) {
			continue
		}
		records = append(records, FromCSVRow(header, row, line))
	}
	return records, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseJSON(data []byte) ([]RawRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []RawRecord{}, nil
	}

	if trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
		}
		return []RawRecord{FromJSONObject(obj, 0)}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON array of objects: %v", ErrMalformedUpload, err)
	}
	records := make([]RawRecord, 0, len(items))
	for i, item := range items {
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			records = append(records, invalidRecord(KindJSONObject, i, fmt.Sprintf("element %d is not an object", i)))
			continue
		}
		records = append(records, FromJSONObject(obj, i))
	}
	return records, nil
}

// BatchResult is the outcome of normalizing a parsed batch.
type BatchResult struct {
	Drafts  []Draft
	Skipped int
	Errors  []error
}

// NormalizeBatch normalizes every record independently, keeping input order
// and counting failures instead of returning them.
func NormalizeBatch(records []RawRecord) BatchResult {
	res := BatchResult{Drafts: make([]Draft, 0, len(records))}
	for _, rec := range records {
		d, err := Normalize(rec)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Errorf("%s %d: %w", rec.Kind, rec.Position, err))
			continue
		}
		res.Drafts = append(res.Drafts, d)
	}
	return res
}
