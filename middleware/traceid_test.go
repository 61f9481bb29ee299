package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func traceOf(t *testing.T, incoming string) string {
	t.Helper()
	r := gin.New()
	r.Use(TraceID())
	r.GET("/api/arenas", func(c *gin.Context) { c.String(http.StatusOK, GetTraceID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/api/arenas", nil)
	if incoming != "" {
		req.Header.Set(TraceIDHeader, incoming)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, w.Body.String(), w.Header().Get(TraceIDHeader), "header echoes context value")
	return w.Body.String()
}

func TestTraceID_KeepsWellFormedIDs(t *testing.T) {
	for _, id := range []string{"overlay-7f3a", "req_42", "a.b.c", strings.Repeat("x", maxTraceIDLen)} {
		assert.Equal(t, id, traceOf(t, id))
	}
}

func TestTraceID_ReplacesMissingOrHostileIDs(t *testing.T) {
	for name, id := range map[string]string{
		"missing":  "",
		"too long": strings.Repeat("x", maxTraceIDLen+1),
		"newline":  "abc\ninjected=1",
		"space":    "two words",
		"quote":    `a"b`,
	} {
		got := traceOf(t, id)
		_, err := uuid.Parse(got)
		assert.NoError(t, err, name)
	}
}

func TestTraceID_UniquePerRequest(t *testing.T) {
	assert.NotEqual(t, traceOf(t, ""), traceOf(t, ""))
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetTraceID(c))
}
