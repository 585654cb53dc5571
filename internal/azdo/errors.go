package azdo

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrAuth marks failures to obtain an Azure DevOps token.
var ErrAuth = errors.New("azure devops authentication failed")

// APIError is a non-2xx response from Azure DevOps.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
	TypeKey    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("azure devops %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

const maxErrorBody = 512

// newAPIError reads the standard error envelope ({"message", "typeKey"})
// when present and falls back to the raw body text.
func newAPIError(method, url string, status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Method: method, URL: url}
	if gjson.ValidBytes(body) {
		e.Message = gjson.GetBytes(body, "message").String()
		e.TypeKey = gjson.GetBytes(body, "typeKey").String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if len(e.Message) > maxErrorBody {
			cut := maxErrorBody
			for cut > 0 && !utf8.RuneStart(e.Message[cut]) {
				cut--
			}
			e.Message = e.Message[:cut] + "..."
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsNotFound reports whether err is a 404 from Azure DevOps.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// HasTypeKey reports whether err is an Azure DevOps error of the given
// exception type, matched on typeKey or, failing that, the message text.
func HasTypeKey(err error, key string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.TypeKey == key || strings.Contains(apiErr.Message, key)
}
