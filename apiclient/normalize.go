package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// GenericErrorMessage is shown when a failure carries no usable text.
const GenericErrorMessage = "An unexpected error occurred. Please try again."

// nestedErrorPaths hold validation lists wrapped in a details object.
var nestedErrorPaths = []string{"details.errors", "detail.details.errors"}

// ErrorMessage turns any failure into one display string.
//
// Backends disagree on error shapes and some send several at once, so the
// most structured source wins: a flat "detail" string, then a "detail"
// validation list, then a nested details.errors list, then a flat "message"
// (or "error") field, then the error text itself.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if msg := payloadMessage(apiErr.Body); msg != "" {
			return msg
		}
		return fmt.Sprintf("Request failed with status code %d", apiErr.StatusCode)
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return GenericErrorMessage
}

func payloadMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	root := gjson.ParseBytes(body)

	detail := root.Get("detail")
	if detail.Type == gjson.String && detail.String() != "" {
		return detail.String()
	}
	if detail.IsArray() {
		if msg := joinFieldErrors(detail); msg != "" {
			return msg
		}
	}

	for _, path := range nestedErrorPaths {
		if list := root.Get(path); list.IsArray() {
			if msg := joinFieldErrors(list); msg != "" {
				return msg
			}
		}
	}

	for _, key := range []string{"message", "error"} {
		if v := root.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// joinFieldErrors renders a validation list as "field: message" pairs.
func joinFieldErrors(list gjson.Result) string {
	var parts []string
	list.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			parts = append(parts, item.String())
			return true
		}

		msg := item.Get("msg")
		if !msg.Exists() {
			msg = item.Get("message")
		}
		if msg.String() == "" {
			return true
		}

		if field := fieldName(item); field != "" {
			parts = append(parts, field+": "+msg.String())
		} else {
			parts = append(parts, msg.String())
		}
		return true
	})
	return strings.Join(parts, ", ")
}

// fieldName prefers the last element of a FastAPI-style "loc" path.
func fieldName(item gjson.Result) string {
	loc := item.Get("loc")
	if loc.IsArray() {
		elems := loc.Array()
		if len(elems) > 0 {
			return elems[len(elems)-1].String()
		}
	}
	if loc.Type == gjson.String {
		return loc.String()
	}
	return item.Get("field").String()
}

// StatusText is a short label for an HTTP status, used by the CLI.
func StatusText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
	}
	return ""
}
