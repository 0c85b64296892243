package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/eventimport/internal/tabular"
)

func TestParseFile(t *testing.T) {
	csv := "Event,Start Date,Name,Email\n" +
		"Conf A,2025-01-01 09:00,Alice,alice@x.com\n" +
		"\n" +
		"Conf A,2025-01-01 09:00,Bob,bob@x.com\n"

	preview, err := ParseFile(strings.NewReader(csv), "upload.csv", ImportComplete)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if preview.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want 2 (blank line skipped)", preview.TotalRows)
	}
	if len(preview.Rows) != 2 || preview.Rows[1]["Name"] != "Bob" {
		t.Errorf("Rows = %v", preview.Rows)
	}
	if preview.ImportType != ImportComplete {
		t.Errorf("ImportType = %s", preview.ImportType)
	}
	if got := preview.ExpectedColumns[0]; got != "Event Title" {
		t.Errorf("ExpectedColumns[0] = %q, want Event Title", got)
	}
	if got := preview.MappingSuggestions[FieldEventTitle]; got != "Event" {
		t.Errorf("suggested event_title = %q, want Event", got)
	}
}

func TestParseFile_PreviewIsCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("Event Title,Start Date\n")
	for i := range 150 {
		fmt.Fprintf(&b, "Conf %d,2025-01-01\n", i)
	}

	preview, table, err := parseUpload(strings.NewReader(b.String()), "big.csv", ImportEventsOnly, ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if preview.TotalRows != 150 || len(table.Rows) != 150 {
		t.Errorf("TotalRows = %d, table rows = %d, want 150", preview.TotalRows, len(table.Rows))
	}
	if len(preview.Rows) != DefaultPreviewRows {
		t.Errorf("preview rows = %d, want %d", len(preview.Rows), DefaultPreviewRows)
	}
}

func TestParseFile_Errors(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		_, err := ParseFile(strings.NewReader(""), "empty.csv", ImportComplete)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *ParseError", err)
		}
		if pe.FileName != "empty.csv" {
			t.Errorf("FileName = %q", pe.FileName)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseFile(strings.NewReader("a\n1\n"), "a.csv", ImportType("sessions"))
		if !errors.Is(err, ErrUnknownImportType) {
			t.Errorf("error = %v, want ErrUnknownImportType", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, _, err := parseUpload(strings.NewReader("Event\nConf A\n"), "a.csv", ImportEventsOnly, ParseOptions{MaxBytes: 4})
		if !errors.Is(err, tabular.ErrFileTooLarge) {
			t.Errorf("error = %v, want ErrFileTooLarge", err)
		}
	})
}
