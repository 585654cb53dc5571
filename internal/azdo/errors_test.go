package azdo

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	t.Run("envelope", func(t *testing.T) {
		e := newAPIError(http.MethodGet, "https://x/_apis/y", 404, []byte(`{"$id":"1","message":"TF401232: gone","typeKey":"WorkItemUnauthorizedAccessException"}`))
		assert.Equal(t, "TF401232: gone", e.Message)
		assert.Equal(t, "WorkItemUnauthorizedAccessException", e.TypeKey)
		assert.Equal(t, "azure devops GET https://x/_apis/y: HTTP 404: TF401232: gone", e.Error())
		assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", e)))
	})
	t.Run("plain body is truncated", func(t *testing.T) {
		e := newAPIError(http.MethodPost, "u", 502, []byte(strings.Repeat("x", 600)))
		assert.Len(t, e.Message, maxErrorBody+3)
		assert.Empty(t, e.TypeKey)
	})
	t.Run("truncation keeps runes whole", func(t *testing.T) {
		body := strings.Repeat("x", maxErrorBody-1) + strings.Repeat("é", 10)
		e := newAPIError(http.MethodGet, "u", 500, []byte(body))
		assert.True(t, utf8.ValidString(e.Message))
		assert.Equal(t, strings.Repeat("x", maxErrorBody-1)+"...", e.Message)
	})
	t.Run("empty body", func(t *testing.T) {
		e := newAPIError(http.MethodGet, "u", 503, nil)
		assert.Equal(t, "Service Unavailable", e.Message)
	})
}

func TestHasTypeKey(t *testing.T) {
	byKey := &APIError{StatusCode: 404, TypeKey: "CurrentIterationDoesNotExistException"}
	byMessage := &APIError{StatusCode: 404, Message: "CurrentIterationDoesNotExistException: none"}
	assert.True(t, HasTypeKey(byKey, "CurrentIterationDoesNotExistException"))
	assert.True(t, HasTypeKey(byMessage, "CurrentIterationDoesNotExistException"))
	assert.False(t, HasTypeKey(byKey, "Other"))
	assert.False(t, HasTypeKey(fmt.Errorf("plain"), "CurrentIterationDoesNotExistException"))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("3600"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(20 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 15*time.Second)
	assert.LessOrEqual(t, d, 20*time.Second)
}

func TestFieldOpsSorted(t *testing.T) {
	ops := FieldOps(map[string]any{"System.Title": "t", "System.AreaPath": "a", "Custom.X": 1})
	var paths []string
	for _, op := range ops {
		assert.Equal(t, "add", op.Op)
		paths = append(paths, op.Path)
	}
	assert.Equal(t, []string{"/fields/Custom.X", "/fields/System.AreaPath", "/fields/System.Title"}, paths)
}
