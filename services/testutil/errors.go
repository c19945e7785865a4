package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest        = "INVALID_REQUEST"
	ErrorCodeUnauthorized          = "UNAUTHORIZED"
	ErrorCodeForbidden             = "FORBIDDEN"
	ErrorCodeRateLimited           = "RATE_LIMITED"
	ErrorCodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	ErrorCodeROINotComplete        = "ROI_NOT_COMPLETE"
	ErrorCodeAlreadyActivatedToday = "ALREADY_ACTIVATED_TODAY"
	ErrorCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	ErrorCodeInvalidSignature      = "INVALID_SIGNATURE"
	ErrorCodeGraphCycleDetected    = "GRAPH_CYCLE_DETECTED"
	ErrorCodeWithdrawalNotPending  = "WITHDRAWAL_NOT_PENDING"
	ErrorCodeWithdrawalNotFound    = "WITHDRAWAL_NOT_FOUND"
	ErrorCodeEmailTaken            = "EMAIL_TAKEN"
	ErrorCodeAccountExists         = "ACCOUNT_EXISTS"
	ErrorCodeDepositMismatch       = "DEPOSIT_MISMATCH"
	ErrorCodeAlreadySwept          = "ALREADY_SWEPT"
	ErrorCodeInternalError         = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d", getHTTPStatusForErrorCode(expectedCode), resp.Code)
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Message != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Message)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d", expectedStatus, resp.Code)
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeInsufficientFunds, ErrorCodeROINotComplete, ErrorCodeInvalidSignature:
		return http.StatusBadRequest
	case ErrorCodeAccountNotFound, ErrorCodeWithdrawalNotFound:
		return http.StatusNotFound
	case ErrorCodeAlreadyActivatedToday, ErrorCodeWithdrawalNotPending, ErrorCodeEmailTaken,
		ErrorCodeAccountExists, ErrorCodeDepositMismatch, ErrorCodeAlreadySwept:
		return http.StatusConflict
	case ErrorCodeInternalError, ErrorCodeGraphCycleDetected:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
