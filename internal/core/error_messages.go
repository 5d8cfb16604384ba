package core

// error_messages.go maps technical errors to user-facing messages with codes
// that support staff can look up.
//
// Codes by category:
//
//	IMP001 - Mapping conflict: a repository column is mapped more than once
//	IMP002 - Repository not found
//	IMP003 - Unparseable cell value
//	IMP004 - Negative stock balance
//	IMP005 - System busy: too many imports running
//	IMP006 - Missing actor: no user given for audit fields
//	IMP007 - Import not found: nothing to cancel
//	IMP008 - Import id already running
//
//	DB001  - Duplicate value
//	DB002  - Referenced record does not exist
//	DB003  - Database unreachable
//	DB004  - Deadlock or serialization failure
//
//	FILE001 - File too large
//	FILE002 - Unsupported or unreadable spreadsheet
//	FILE003 - No file provided
//	FILE004 - Empty file
//
//	REQ001 - Request cancelled
//	REQ002 - Request timed out
//
//	RATE001 - Rate limited
//
//	ERR000 - Unknown error; check the logs for the technical error
//
// Sentinel errors are matched with errors.Is/As first. Everything else falls
// back to case-insensitive substring patterns where the first match wins, so
// specific patterns must precede general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgMappingConflict = UserMessage{
		Message: "A repository column is mapped to more than one spreadsheet column",
		Action:  "Map each repository column at most once",
		Code:    "IMP001",
	}
	msgRepositoryNotFound = UserMessage{
		Message: "Repository not found",
		Action:  "Verify the repository id",
		Code:    "IMP002",
	}
	msgUnparseable = UserMessage{
		Message: "A cell value does not match its column type",
		Action:  "Check the row messages for the affected cells",
		Code:    "IMP003",
	}
	msgNegativeBalance = UserMessage{
		Message: "A stock change would leave a negative balance",
		Action:  "Check the stock amounts in your file",
		Code:    "IMP004",
	}
	msgTooManyImports = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP005",
	}
	msgMissingActor = UserMessage{
		Message: "No user was given for the import",
		Action:  "Sign in again or pass a user id",
		Code:    "IMP006",
	}
	msgImportNotFound = UserMessage{
		Message: "The import is not running",
		Action:  "It may already have finished; check the import report",
		Code:    "IMP007",
	}
	msgImportRunning = UserMessage{
		Message: "An import with this id is already running",
		Action:  "Wait for it to finish or choose another import id",
		Code:    "IMP008",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try importing a smaller file or check your connection",
		Code:    "REQ002",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Database
	{"duplicate key", UserMessage{"A record with this value already exists", "Review your file for duplicate values", "DB001"}},
	{"violates unique", UserMessage{"A record with this value already exists", "Review your file for duplicate values", "DB001"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Verify the referenced ids exist", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"could not serialize", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},

	// File
	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the file into smaller files", "FILE001"}},
	{"unsupported file", UserMessage{"File is not a CSV or XLSX spreadsheet", "Save the file as .csv or .xlsx", "FILE002"}},
	{"read spreadsheet", UserMessage{"The spreadsheet could not be read", "Re-save the file and try again", "FILE002"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a spreadsheet to import", "FILE003"}},
	{"file is empty", UserMessage{"The file is empty", "Please upload a spreadsheet with data rows", "FILE004"}},

	// Request
	{"context canceled", msgCancelled},
	{"context deadline exceeded", msgTimeout},
	{"timeout", msgTimeout},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var mappingErr *MappingError
	switch {
	case errors.As(err, &mappingErr):
		return msgMappingConflict
	case errors.Is(err, ErrRepositoryNotFound):
		return msgRepositoryNotFound
	case errors.Is(err, ErrNegativeBalance):
		return msgNegativeBalance
	case errors.Is(err, ErrUnparseable):
		return msgUnparseable
	case errors.Is(err, ErrTooManyImports):
		return msgTooManyImports
	case errors.Is(err, ErrMissingActor):
		return msgMissingActor
	case errors.Is(err, ErrImportNotFound):
		return msgImportNotFound
	case errors.Is(err, ErrImportRunning):
		return msgImportRunning
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError wraps err with its mapped message. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
