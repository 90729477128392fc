package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func apiErr(status int, body string) *APIError {
	return &APIError{StatusCode: status, Method: http.MethodGet, Path: "/api/v1/x", Body: []byte(body)}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil",
			err:  nil,
			want: "",
		},
		{
			name: "flat detail",
			err:  apiErr(401, `{"detail":"Incorrect username or password"}`),
			want: "Incorrect username or password",
		},
		{
			name: "detail wins over message",
			err:  apiErr(400, `{"detail":"Period overlaps an existing run","message":"Bad Request"}`),
			want: "Period overlaps an existing run",
		},
		{
			name: "validation list with loc path",
			err: apiErr(422, `{"detail":[
				{"loc":["body","period_start"],"msg":"Field required","type":"missing"},
				{"loc":["body","period_end"],"msg":"Field required","type":"missing"}]}`),
			want: "period_start: Field required, period_end: Field required",
		},
		{
			name: "validation list with field and message",
			err:  apiErr(422, `{"detail":[{"field":"email","message":"is invalid"}]}`),
			want: "email: is invalid",
		},
		{
			name: "validation list of strings",
			err:  apiErr(422, `{"detail":["gateway is unknown","currency mismatch"]}`),
			want: "gateway is unknown, currency mismatch",
		},
		{
			name: "validation item without field",
			err:  apiErr(422, `{"detail":[{"msg":"Request body is empty"}]}`),
			want: "Request body is empty",
		},
		{
			name: "nested details errors beat message",
			err: apiErr(422, `{"details":{"errors":[{"field":"new_password","message":"must be at least 8 characters"}]},
				"message":"Validation failed"}`),
			want: "new_password: must be at least 8 characters",
		},
		{
			name: "details errors under detail",
			err:  apiErr(422, `{"detail":{"details":{"errors":[{"field":"amount","message":"must be positive"}]}}}`),
			want: "amount: must be positive",
		},
		{
			name: "empty detail falls through to message",
			err:  apiErr(500, `{"detail":"","message":"Gateway unavailable"}`),
			want: "Gateway unavailable",
		},
		{
			name: "error field",
			err:  apiErr(400, `{"error":"invalid_grant"}`),
			want: "invalid_grant",
		},
		{
			name: "empty validation list falls through",
			err:  apiErr(422, `{"detail":[],"message":"Validation failed"}`),
			want: "Validation failed",
		},
		{
			name: "non-JSON body",
			err:  apiErr(502, `<html>Bad Gateway</html>`),
			want: "Request failed with status code 502",
		},
		{
			name: "empty body",
			err:  apiErr(500, ``),
			want: "Request failed with status code 500",
		},
		{
			name: "JSON without known fields",
			err:  apiErr(503, `{"status":"down"}`),
			want: "Request failed with status code 503",
		},
		{
			name: "wrapped API error",
			err:  fmt.Errorf("list transactions: %w", apiErr(404, `{"detail":"Not Found"}`)),
			want: "Not Found",
		},
		{
			name: "refresh failure carries server detail",
			err:  &RefreshError{Err: apiErr(401, `{"detail":"Invalid or expired refresh token"}`)},
			want: "Invalid or expired refresh token",
		},
		{
			name: "plain error",
			err:  errors.New("dial tcp 127.0.0.1:8000: connect: connection refused"),
			want: "dial tcp 127.0.0.1:8000: connect: connection refused",
		},
		{
			name: "error without text",
			err:  errors.New("  "),
			want: GenericErrorMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage(tt.err); got != tt.want {
				t.Errorf("ErrorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText(apiErr(404, "")); got != "404 Not Found" {
		t.Errorf("Expected '404 Not Found', got %q", got)
	}
	if got := StatusText(errors.New("boom")); got != "" {
		t.Errorf("Expected empty status for non-API error, got %q", got)
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	if !errors.Is(apiErr(401, ""), ErrUnauthorized) {
		t.Error("Expected 401 to match ErrUnauthorized")
	}
	if errors.Is(apiErr(403, ""), ErrUnauthorized) {
		t.Error("Expected 403 not to match ErrUnauthorized")
	}

	err := &RefreshError{Err: apiErr(401, "")}
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected RefreshError to match both sentinels, got %v", err)
	}
}
