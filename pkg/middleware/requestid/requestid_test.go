package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newRequestIDRouter(capture *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) {
		*capture = Value(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestIDGeneratesUUID(t *testing.T) {
	var got string
	r := newRequestIDRouter(&got)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, got, w.Header().Get("X-Request-ID"))
	_, err := uuid.Parse(got)
	require.NoError(t, err)
}

func TestRequestIDPreservesClientHeader(t *testing.T) {
	var got string
	r := newRequestIDRouter(&got)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "edge-proxy-42")
	r.ServeHTTP(w, req)

	require.Equal(t, "edge-proxy-42", got)
	require.Equal(t, "edge-proxy-42", w.Header().Get("X-Request-ID"))
}
