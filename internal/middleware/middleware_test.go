package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/idtoken"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("pubsub_email"))
	})
	r.GET("/", handlers...)
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInternalAuthMiddleware(t *testing.T) {
	r := newRouter(InternalAuthMiddleware("secret"))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "nope")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/?api_key=secret", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInternalAuthMiddlewareWithoutConfiguredKey(t *testing.T) {
	r := newRouter(InternalAuthMiddleware(""))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "anything")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestPubSubAuthMiddleware(t *testing.T) {
	var gotAudience string
	validate := func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		gotAudience = audience
		if token != "valid" {
			return nil, errors.New("signature mismatch")
		}
		return &idtoken.Payload{Claims: map[string]interface{}{"email": "push@example.iam.gserviceaccount.com"}}, nil
	}
	r := newRouter(PubSubAuthMiddleware("https://svc.example.com/webhook/google", validate))

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	assert.Equal(t, "https://svc.example.com/webhook/google", gotAudience)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer valid")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "push@example.iam.gserviceaccount.com", w.Body.String())
}

func TestPubSubAuthMiddlewareDisabledWithoutAudience(t *testing.T) {
	r := newRouter(PubSubAuthMiddleware("", func(context.Context, string, string) (*idtoken.Payload, error) {
		return nil, errors.New("should not be called")
	}))
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}
