package runner

import (
	"fmt"
	"strings"
)

// ErrorCode classifies a LaunchError for programmatic handling (IsErrorCode)
// without callers needing to match on message text.
type ErrorCode string

const (
	ErrCodeParse          ErrorCode = "PARSE"
	ErrCodeLoad           ErrorCode = "LOAD"
	ErrCodeValidate       ErrorCode = "VALIDATE"
	ErrCodeSubstitution   ErrorCode = "SUBSTITUTION"
	ErrCodeMasterUnreachable ErrorCode = "MASTER_UNREACHABLE"
	ErrCodeNodeStartFailed   ErrorCode = "NODE_START_FAILED"
	ErrCodeRemoteUnreachable ErrorCode = "REMOTE_UNREACHABLE"
	ErrCodeTestFailed        ErrorCode = "TEST_FAILED"
	ErrCodeInternal          ErrorCode = "INTERNAL"
)

// LaunchError carries a machine-checkable Code alongside the human-facing
// message, context and suggestion, mirroring the teacher's own structured
// error type so CLI output stays actionable instead of a bare Go error chain.
type LaunchError struct {
	Code       ErrorCode
	Message    string
	Context    map[string]interface{}
	Cause      error
	Suggestion string
}

func (e *LaunchError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("suggestion: %s", e.Suggestion))
	}
	return strings.Join(parts, "; ")
}

func (e *LaunchError) Unwrap() error { return e.Cause }

// NewLaunchError creates a LaunchError with the given code and message.
func NewLaunchError(code ErrorCode, message string) *LaunchError {
	return &LaunchError{Code: code, Message: message, Context: make(map[string]interface{})}
}

func (e *LaunchError) WithContext(key string, value interface{}) *LaunchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *LaunchError) WithCause(cause error) *LaunchError {
	e.Cause = cause
	return e
}

func (e *LaunchError) WithSuggestion(suggestion string) *LaunchError {
	e.Suggestion = suggestion
	return e
}

// ErrMasterUnreachable reports that the master could not be reached and
// auto-start was not permitted to fix that.
func ErrMasterUnreachable(uri string, cause error) *LaunchError {
	return NewLaunchError(ErrCodeMasterUnreachable,
		fmt.Sprintf("master at %s is not reachable", uri)).
		WithContext("uri", uri).
		WithCause(cause).
		WithSuggestion("start the master manually, or set master auto=\"start\" in the launch file")
}

// ErrNodeStartFailed reports that a node process could not be started.
func ErrNodeStartFailed(node string, cause error) *LaunchError {
	return NewLaunchError(ErrCodeNodeStartFailed,
		fmt.Sprintf("node %q failed to start", node)).
		WithContext("node", node).
		WithCause(cause).
		WithSuggestion("check the node's package/type resolve to a runnable executable and its working directory exists")
}

// ErrRemoteUnreachable reports that a node's assigned machine could not be
// reached over the configured remote transport.
func ErrRemoteUnreachable(machine string, cause error) *LaunchError {
	return NewLaunchError(ErrCodeRemoteUnreachable,
		fmt.Sprintf("machine %q is not reachable", machine)).
		WithContext("machine", machine).
		WithCause(cause).
		WithSuggestion("verify the machine is up and a remote factory (SSH or gRPC agent) is configured for it")
}

// ErrTestFailed reports that a test node did not report success within its
// result timeout.
func ErrTestFailed(testName string, cause error) *LaunchError {
	return NewLaunchError(ErrCodeTestFailed,
		fmt.Sprintf("test %q failed", testName)).
		WithContext("test", testName).
		WithCause(cause)
}

// IsErrorCode reports whether err is a *LaunchError with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	if le, ok := err.(*LaunchError); ok {
		return le.Code == code
	}
	return false
}

// GetSuggestion returns the suggestion text from err, or "" if err is not a
// *LaunchError or carries no suggestion.
func GetSuggestion(err error) string {
	if le, ok := err.(*LaunchError); ok {
		return le.Suggestion
	}
	return ""
}
