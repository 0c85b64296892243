package core

// error_messages.go maps technical errors to user-facing messages with a
// code that operators can quote to support.
//
// Codes by category:
//
//	DB001-DB006    Database constraint and connection errors
//	VAL001-VAL006  Row and mapping validation errors
//	REF001         Referenced entity missing
//	TX001          Row transaction failures
//	FILE001-FILE005 Upload file errors
//	IMP001-IMP007  Import job lifecycle errors
//	ERR000         Fallback; check the logs for the original error
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Database (DB001-DB006)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Re-run the import; existing records are reused automatically",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import the events before their attendees, agenda or presenters",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB006",
		},
	},

	// =========================================================================
	// Validation (VAL001-VAL006)
	// =========================================================================
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD HH:MM, MM/DD/YYYY, or Jan 15, 2025",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use a whole number without units",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL003",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request is malformed",
			Action:  "Check the request fields and try again",
			Code:    "VAL004",
		},
	},
	{
		pattern: "column not found",
		msg: UserMessage{
			Message: "Mapped column not found in the file",
			Action:  "Pick one of the file's headers for each field",
			Code:    "VAL005",
		},
	},
	{
		pattern: "invalid enum",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this field",
			Code:    "VAL006",
		},
	},

	// =========================================================================
	// References and transactions
	// =========================================================================
	{
		pattern: "event not found",
		msg: UserMessage{
			Message: "Event not found",
			Action:  "Import the event first or fix the event title",
			Code:    "REF001",
		},
	},
	{
		pattern: "transaction",
		msg: UserMessage{
			Message: "The row could not be saved",
			Action:  "Re-upload the failed rows",
			Code:    "TX001",
		},
	},

	// =========================================================================
	// File (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or XLSX file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header row and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "invalid tabular file",
		msg: UserMessage{
			Message: "File is not a valid CSV or XLSX file",
			Action:  "Export the sheet as CSV or XLSX with a header row",
			Code:    "FILE002",
		},
	},

	// =========================================================================
	// Import jobs (IMP001-IMP007)
	// =========================================================================
	{
		pattern: "import interrupted",
		msg: UserMessage{
			Message: "The import was interrupted by a server restart",
			Action:  "Upload the file again; already imported rows are reused",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import job not found",
		msg: UserMessage{
			Message: "Import job not found",
			Action:  "The job may have been deleted. Please upload the file again",
			Code:    "IMP003",
		},
	},
	{
		pattern: "invalid job status transition",
		msg: UserMessage{
			Message: "The job cannot do that in its current state",
			Action:  "Refresh the job to see its current status",
			Code:    "IMP004",
		},
	},
	{
		pattern: "unknown import type",
		msg: UserMessage{
			Message: "Unknown import type",
			Action:  "Choose complete, events_only, attendees_only, agenda_only or presenters_only",
			Code:    "IMP005",
		},
	},
	{
		pattern: "import already running",
		msg: UserMessage{
			Message: "This import is already running",
			Action:  "Wait for it to finish",
			Code:    "IMP006",
		},
	},
	{
		pattern: "import setup failed",
		msg: UserMessage{
			Message: "The import could not start",
			Action:  "Upload the file again",
			Code:    "IMP007",
		},
	},

	// =========================================================================
	// Request lifecycle
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "REQ002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "REQ002",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the generic ERR000 message is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
