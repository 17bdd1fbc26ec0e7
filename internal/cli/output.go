package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/syssam/strata/dialect/sql/schema"
)

// Exit codes of the strata command.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // validation failed
	ExitCommandError = 2 // bad arguments, unreadable files, database errors
)

// ExitError is an error carrying the exit code of the command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func commandError(message string, err error) *ExitError {
	return &ExitError{Code: ExitCommandError, Message: message, Err: err}
}

// ExitCode returns the exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// report is the JSON form of a validation result.
type report struct {
	Valid    bool    `json:"valid"`
	Errors   []issue `json:"errors,omitempty"`
	Warnings []issue `json:"warnings,omitempty"`
}

type issue struct {
	Table    string `json:"table"`
	Column   string `json:"column,omitempty"`
	Message  string `json:"message"`
	Breaking bool   `json:"breaking,omitempty"`
}

func issues(errs []*schema.ValidationError) []issue {
	out := make([]issue, len(errs))
	for i, e := range errs {
		out[i] = issue{Table: e.Table, Column: e.Column, Message: e.Message, Breaking: e.Breaking}
	}
	return out
}

// writeResult prints res and returns an ExitFailure error when it holds
// errors.
func writeResult(opts *RootOptions, w io.Writer, res *schema.ValidationResult) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report{Valid: !res.HasErrors(), Errors: issues(res.Errors), Warnings: issues(res.Warnings)}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, strings.TrimRight(res.String(), "\n"))
	}
	if res.HasErrors() {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed with %d error(s)", len(res.Errors))}
	}
	return nil
}
