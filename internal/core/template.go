package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// GenerateTemplate returns a starter CSV for importType: the expected
// header row followed by one example row.
func GenerateTemplate(importType ImportType) (string, error) {
	def, ok := Get(importType)
	if !ok {
		return "", unknownImportType(string(importType))
	}

	example := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		example[i] = f.Example
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(def.ExpectedColumns()); err != nil {
		return "", fmt.Errorf("write template header: %w", err)
	}
	if err := w.Write(example); err != nil {
		return "", fmt.Errorf("write template row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write template: %w", err)
	}
	return buf.String(), nil
}

// TemplateFileName is the download name for importType's template.
func TemplateFileName(importType ImportType) string {
	return fmt.Sprintf("%s_import_template.csv", importType)
}
