package core

import (
	"errors"
	"io"

	"github.com/JonMunkholm/eventimport/internal/tabular"
)

// DefaultPreviewRows caps the row sample returned for operator review.
const DefaultPreviewRows = 100

// ParseOptions tunes ParseFile. Zero values select the defaults.
type ParseOptions struct {
	MaxBytes         int64   // 0 disables the size check
	PreviewRows      int     // DefaultPreviewRows when <= 0
	MappingThreshold float64 // DefaultMappingThreshold when <= 0
}

// ParseFile reads an uploaded file and builds the preview shown before the
// operator confirms the import. It has no side effects.
func ParseFile(r io.Reader, fileName string, importType ImportType) (*ParsedPreview, error) {
	preview, _, err := parseUpload(r, fileName, importType, ParseOptions{})
	return preview, err
}

// parseUpload returns the preview plus the decoded table, which the service
// stores as the job's replay payload.
func parseUpload(r io.Reader, fileName string, importType ImportType, opts ParseOptions) (*ParsedPreview, *tabular.Table, error) {
	def, ok := Get(importType)
	if !ok {
		return nil, nil, unknownImportType(string(importType))
	}

	table, err := tabular.Read(r, fileName, opts.MaxBytes)
	if err != nil {
		if errors.Is(err, tabular.ErrFileTooLarge) {
			return nil, nil, err
		}
		return nil, nil, &ParseError{FileName: fileName, Err: err}
	}

	previewRows := opts.PreviewRows
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	threshold := opts.MappingThreshold
	if threshold <= 0 {
		threshold = DefaultMappingThreshold
	}

	n := min(previewRows, len(table.Rows))
	sample := make([]Row, n)
	for i := range n {
		sample[i] = NewRow(table.Headers, table.Rows[i])
	}

	preview := &ParsedPreview{
		Headers:            table.Headers,
		Rows:               sample,
		TotalRows:          len(table.Rows),
		ExpectedColumns:    def.ExpectedColumns(),
		MappingSuggestions: suggestMapping(table.Headers, def.Fields, threshold),
		ImportType:         importType,
	}
	return preview, table, nil
}
