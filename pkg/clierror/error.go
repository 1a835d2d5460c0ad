package clierror

import (
	"encoding/json"
	"fmt"
	"os"
)

// Exit codes for popcli.
const (
	ExitSuccess     = 0 // Operation completed successfully
	ExitGeneral     = 1 // Unknown/unhandled error
	ExitAuth        = 2 // Not registered, token expired, proof rejected
	ExitNotFound    = 4 // Resource doesn't exist
	ExitRateLimited = 5 // Too many requests
)

// Error codes (strings) for programmatic error handling.
const (
	CodeNotRegistered    = "NOT_REGISTERED"
	CodeKeyExists        = "KEY_EXISTS"
	CodeKeyNotFound      = "KEY_NOT_FOUND"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeBotBlocked       = "BOT_BLOCKED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// NotRegistered creates an error for commands that need a prior registration.
func NotRegistered() *CLIError {
	return &CLIError{
		Code:      CodeNotRegistered,
		Message:   "this device is not registered",
		Hint:      "Run 'popcli keygen' then 'popcli register --account <id>' first",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// KeyExists creates an error when keygen would overwrite an existing key.
func KeyExists(path string) *CLIError {
	return &CLIError{
		Code:      CodeKeyExists,
		Message:   fmt.Sprintf("device key already exists at '%s'", path),
		Hint:      "Use --force to overwrite; the old key's registrations stop working",
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// KeyNotFound creates an error when a device key doesn't exist on the server.
func KeyNotFound(id string) *CLIError {
	return &CLIError{
		Code:      CodeKeyNotFound,
		Message:   fmt.Sprintf("device key '%s' not found", id),
		Hint:      "Check key ids with 'popcli keys list'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// AuthFailed creates an error when the server rejects the request credentials.
func AuthFailed(code string) *CLIError {
	msg := "the server rejected this request's credentials"
	if code != "" {
		msg = fmt.Sprintf("the server rejected this request's credentials (%s)", code)
	}
	return &CLIError{
		Code:      CodeAuthFailed,
		Message:   msg,
		Hint:      "The token may have expired or the key been revoked; re-run 'popcli register'",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// BotBlocked creates an error when the server classified the client as automated.
func BotBlocked() *CLIError {
	return &CLIError{
		Code:      CodeBotBlocked,
		Message:   "the server classified this client as automated and blocked the request",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// RateLimited creates an error for rate limiting.
func RateLimited() *CLIError {
	return &CLIError{
		Code:      CodeRateLimited,
		Message:   "rate limit exceeded",
		Hint:      "Wait a moment before retrying",
		Retryable: true,
		ExitCode:  ExitRateLimited,
	}
}

// ConnectionFailed creates an error for connection failures.
func ConnectionFailed(target string) *CLIError {
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to '%s'", target),
		Hint:      "Check network connectivity and the --server address",
		Retryable: true,
		ExitCode:  ExitGeneral,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FromStatus maps an HTTP rejection to a CLIError. The code parameter is
// the server's error code from the response body, empty if unavailable.
func FromStatus(status int, code string) *CLIError {
	switch status {
	case 401:
		return AuthFailed(code)
	case 403:
		return BotBlocked()
	case 404:
		return KeyNotFound(code)
	case 429:
		return RateLimited()
	default:
		return InternalError(fmt.Errorf("server returned status %d", status))
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
