package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode_StatusCode(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeNoToken, 401},
		{CodeTokenMalformed, 401},
		{CodeTokenExpired, 401},
		{CodeAuthTimeout, 401},
		{CodeForbidden, 403},
		{CodeValidation, 400},
		{CodeRateLimited, 429},
		{CodeDeviceUnavailable, 503},
		{CodeServerMisconfigured, 500},
		{CodeInternal, 500},
		{Code("SOMETHING_ELSE"), 500},
	}

	for _, test := range tests {
		t.Run(string(test.code), func(t *testing.T) {
			if got := test.code.StatusCode(); got != test.expected {
				t.Errorf("expected %d, got %d", test.expected, got)
			}
		})
	}
}

func TestCode_Terminal(t *testing.T) {
	tests := []struct {
		code     Code
		expected bool
	}{
		{CodeNoToken, true},
		{CodeTokenExpired, true},
		{CodeAuthTimeout, true},
		{CodeServerMisconfigured, true},
		{CodeForbidden, false},
		{CodeValidation, false},
		{CodeRateLimited, false},
		{CodeDeviceUnavailable, false},
	}

	for _, test := range tests {
		t.Run(string(test.code), func(t *testing.T) {
			if got := test.code.Terminal(); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(cause, CodeInternal, "bridge", "Send", "deliver command")
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause via errors.Is")
	}
	if CodeOf(err) != CodeInternal {
		t.Errorf("expected CodeInternal, got %s", CodeOf(err))
	}

	if Wrap(nil, CodeInternal, "bridge", "Send", "deliver command") != nil {
		t.Error("wrapping nil should yield nil")
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	err := Wrap(fmt.Errorf("parse failure"), CodeTokenMalformed, "identity", "Verify", "parse token")
	if !errors.Is(err, ErrTokenMalformed) {
		t.Error("expected errors.Is to match sentinel by code")
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Error("should not match a different code")
	}
}

func TestCodeOf_Unclassified(t *testing.T) {
	if CodeOf(fmt.Errorf("plain")) != CodeInternal {
		t.Error("unclassified errors default to CodeInternal")
	}
}

func TestIsAuthentication(t *testing.T) {
	if !IsAuthentication(ErrTokenExpired) {
		t.Error("expired token is an authentication error")
	}
	if !IsAuthentication(ErrAuthTimeout) {
		t.Error("auth timeout is an authentication error")
	}
	if IsAuthentication(ErrRateLimited) {
		t.Error("rate limiting is not an authentication error")
	}
	if IsAuthentication(Validation("tableId")) {
		t.Error("validation is not an authentication error")
	}
}
