// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors provides user-facing error formatting for the ragex CLI.
//
// Every CLI-level failure is wrapped into a UserError carrying a short
// title, a longer detail line, and an actionable suggestion, so the person
// running the command gets more than a bare Go error string. It is
// deliberately separate from pkg/ragexerr, which tags library-level errors
// (NotFound, Invalid, Conflict, ...) for programmatic handling by callers of
// the core packages.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
)

// Category classifies a UserError for CLI formatting and exit behavior.
type Category string

const (
	CategoryInput      Category = "input"
	CategoryConfig     Category = "config"
	CategoryPermission Category = "permission"
	CategoryNetwork    Category = "network"
	CategoryDatabase   Category = "database"
	CategoryInternal   Category = "internal"
)

// UserError is a structured, human-readable error surfaced at the CLI
// boundary. It implements the error interface so it composes with the rest
// of the standard library (errors.Is/As, %w wrapping).
type UserError struct {
	Category   Category
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *UserError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return e.Title
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func newUserError(cat Category, title, detail, suggestion string, cause ...error) *UserError {
	ue := &UserError{Category: cat, Title: title, Detail: detail, Suggestion: suggestion}
	if len(cause) > 0 {
		ue.Cause = cause[0]
	}
	return ue
}

// NewInputError reports a problem with arguments or flags the user supplied.
func NewInputError(title, detail, suggestion string, cause ...error) *UserError {
	return newUserError(CategoryInput, title, detail, suggestion, cause...)
}

// NewConfigError reports a problem loading or validating the project config.
func NewConfigError(title, detail, suggestion string, cause ...error) *UserError {
	return newUserError(CategoryConfig, title, detail, suggestion, cause...)
}

// NewPermissionError reports a filesystem or OS permission failure.
func NewPermissionError(title, detail, suggestion string, cause ...error) *UserError {
	return newUserError(CategoryPermission, title, detail, suggestion, cause...)
}

// NewNetworkError reports a failure to reach a server or external service.
func NewNetworkError(title, detail, suggestion string, cause ...error) *UserError {
	return newUserError(CategoryNetwork, title, detail, suggestion, cause...)
}

// NewDatabaseError reports a failure in the underlying graph/vector store.
func NewDatabaseError(title, detail, suggestion string, cause ...error) *UserError {
	return newUserError(CategoryDatabase, title, detail, suggestion, cause...)
}

// NewInternalError reports a bug or unexpected condition in ragex itself.
func NewInternalError(title, detail, suggestion string, cause ...error) *UserError {
	return newUserError(CategoryInternal, title, detail, suggestion, cause...)
}

// Format renders the error either as a single JSON line (for --json mode)
// or as a multi-line human-readable block with title/detail/suggestion.
func (e *UserError) Format(jsonOutput bool) string {
	if jsonOutput {
		payload := map[string]any{
			"error":      e.Title,
			"category":   string(e.Category),
			"detail":     e.Detail,
			"suggestion": e.Suggestion,
		}
		if e.Cause != nil {
			payload["cause"] = e.Cause.Error()
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf(`{"error":%q}`, e.Title)
		}
		return string(b)
	}

	out := fmt.Sprintf("Error: %s", e.Title)
	if e.Detail != "" {
		out += fmt.Sprintf("\n  %s", e.Detail)
	}
	if e.Cause != nil {
		out += fmt.Sprintf("\n  cause: %v", e.Cause)
	}
	if e.Suggestion != "" {
		out += fmt.Sprintf("\n\n%s", e.Suggestion)
	}
	return out
}

// FatalError prints an error to stderr in the requested format and exits
// the process with status 1. Errors that are not already UserErrors are
// wrapped as internal. It never returns.
func FatalError(err error, jsonOutput bool) {
	var ue *UserError
	if !stderrors.As(err, &ue) {
		ue = NewInternalError("Unexpected error", err.Error(), "", err)
	}
	fmt.Fprintln(os.Stderr, ue.Format(jsonOutput))
	os.Exit(1)
}
