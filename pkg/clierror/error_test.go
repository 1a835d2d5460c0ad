package clierror

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConstructorsCarryExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *CLIError
		code string
		exit int
	}{
		{"not registered", NotRegistered(), CodeNotRegistered, ExitAuth},
		{"key exists", KeyExists("/tmp/key.pem"), CodeKeyExists, ExitGeneral},
		{"key not found", KeyNotFound("dk_1"), CodeKeyNotFound, ExitNotFound},
		{"auth failed", AuthFailed("dpop.replay"), CodeAuthFailed, ExitAuth},
		{"bot blocked", BotBlocked(), CodeBotBlocked, ExitAuth},
		{"rate limited", RateLimited(), CodeRateLimited, ExitRateLimited},
		{"connection failed", ConnectionFailed("localhost:8443"), CodeConnectionFailed, ExitGeneral},
		{"internal", InternalError(errors.New("boom")), CodeInternalError, ExitGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.ExitCode != tt.exit {
				t.Errorf("ExitCode = %d, want %d", tt.err.ExitCode, tt.exit)
			}
			if tt.err.Error() == "" {
				t.Error("message should not be empty")
			}
		})
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{401, CodeAuthFailed},
		{403, CodeBotBlocked},
		{404, CodeKeyNotFound},
		{429, CodeRateLimited},
		{500, CodeInternalError},
	}
	for _, tt := range tests {
		if got := FromStatus(tt.status, ""); got.Code != tt.code {
			t.Errorf("FromStatus(%d) = %q, want %q", tt.status, got.Code, tt.code)
		}
	}
}

func TestFormatErrorHuman(t *testing.T) {
	out := FormatError(NotRegistered(), "text")
	if !strings.Contains(out, "NOT_REGISTERED") {
		t.Errorf("missing code: %s", out)
	}
	if !strings.Contains(out, "Hint:") {
		t.Errorf("missing hint: %s", out)
	}
}

func TestFormatErrorJSON(t *testing.T) {
	out := FormatError(RateLimited(), "json")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["code"] != CodeRateLimited {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["retryable"] != true {
		t.Error("retryable should serialize")
	}
	if _, ok := decoded["ExitCode"]; ok {
		t.Error("exit code must not serialize")
	}
}

func TestErrorsAs(t *testing.T) {
	var err error = NotRegistered()
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		t.Fatal("errors.As should unwrap *CLIError")
	}
	if cliErr.ExitCode != ExitAuth {
		t.Errorf("ExitCode = %d", cliErr.ExitCode)
	}
}
