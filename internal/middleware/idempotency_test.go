package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newIdempotentRouter(store IdempotencyStore, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyMiddleware(store))
	r.POST("/send", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"hash": "0xdeadbeef"})
	})
	return r
}

func TestIdempotencyMiddleware_PassesThroughWithoutKey(t *testing.T) {
	var calls int
	r := newIdempotentRouter(NewInMemIdempotencyStore(), &calls)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_ReplaysCompletedResponse(t *testing.T) {
	var calls int
	r := newIdempotentRouter(NewInMemIdempotencyStore(), &calls)

	req := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		req.Header.Set(HeaderIdempotencyKey, "key-1")
		return req
	}

	first := httptest.NewRecorder()
	r.ServeHTTP(first, req())
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, req())
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	// The handler itself only ran once; the second response was replayed.
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_RejectsConcurrentInFlightKey(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var calls int
	r := newIdempotentRouter(store, &calls)

	store.GetOrLock("key-2") // simulate a request already in flight

	req := httptest.NewRequest(http.MethodPost, "/send", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, calls)
}
