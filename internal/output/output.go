// Package output renders command results: the JSON result documents, failure
// messages and human readable tables.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
	"github.com/dokzlo13/zhmcctl/internal/partitions"
	"github.com/dokzlo13/zhmcctl/internal/props"
)

// Exit codes of failed commands.
const (
	ExitFailure    = 1 // error of a known category
	ExitUnexpected = 2
)

// VirtualFunctionResult is the result document of the vfunction command.
type VirtualFunctionResult struct {
	Changed         bool           `json:"changed"`
	VirtualFunction map[string]any `json:"virtual_function"`
}

// PartitionsResult is the result document of the partitions command.
type PartitionsResult struct {
	Changed    bool              `json:"changed"`
	Partitions []partitions.Info `json:"partitions"`
}

// FailureResult is the result document of a failed command.
type FailureResult struct {
	Failed  bool   `json:"failed"`
	Changed bool   `json:"changed"`
	Msg     string `json:"msg"`
}

// Category classifies err. known is false for errors outside the error
// taxonomy, which are reported with their full chain.
func Category(err error) (category string, known bool) {
	var (
		nerr *hmc.NoUniqueMatchError
		herr *hmc.HTTPError
		cerr *hmc.ConnectionError
		serr *hmc.StatusError
	)
	switch {
	// Before NotFound: an unresolved reference wraps the lookup miss.
	case errors.Is(err, props.ErrParameter):
		return "ParameterError", true
	case errors.As(err, &serr):
		return "StatusError", true
	case hmc.IsNotFound(err):
		return "NotFoundError", true
	case errors.As(err, &nerr):
		return "NoUniqueMatchError", true
	case errors.As(err, &herr):
		return "HTTPError", true
	case errors.As(err, &cerr):
		return "ConnectionError", true
	case errors.Is(err, context.Canceled):
		return "Interrupted", true
	default:
		return "Error", false
	}
}

// Message returns the single line failure message "<category>: <detail>".
func Message(err error) string {
	category, _ := Category(err)
	return fmt.Sprintf("%s: %s", category, err)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteFailure writes the failure document for err and returns the exit code.
func WriteFailure(w io.Writer, err error) int {
	_, known := Category(err)
	_ = WriteJSON(w, FailureResult{Failed: true, Changed: false, Msg: Message(err)})
	if known {
		return ExitFailure
	}
	return ExitUnexpected
}

type parameterError struct {
	err error
}

func (e *parameterError) Error() string { return e.err.Error() }

func (e *parameterError) Unwrap() error { return e.err }

func (e *parameterError) Is(target error) bool { return target == props.ErrParameter }

// ParameterError marks err as a mistake in the invocation parameters, e.g. a
// missing flag or an invalid configuration value.
func ParameterError(err error) error {
	if err == nil {
		return nil
	}
	return &parameterError{err: err}
}
