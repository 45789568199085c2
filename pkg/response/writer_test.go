package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/harbor/pkg/errors"
)

func TestWriterFail(t *testing.T) {
	rec := httptest.NewRecorder()
	NewWriter(rec).WithRequestID("req-1").Fail(errors.ErrEngineUnavailable)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))

	var got Response
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, errors.ErrEngineUnavailable.Code, got.Code)
	assert.Equal(t, "Engine unavailable", got.Message)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestGinHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) { OK(c, map[string]string{"a": "b"}) })
	r.GET("/fail", func(c *gin.Context) { Fail(c, errors.ErrRouteNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"message":"Success","data":{"a":"b"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "路由不存在")
}

func TestLang(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"default", "/", "", "en"},
		{"query", "/?lang=zh", "", "zh"},
		{"header zh", "/", "zh-CN,zh;q=0.9", "zh"},
		{"header en", "/", "en-US", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			assert.Equal(t, tt.want, Lang(req))
		})
	}
	assert.Equal(t, "en", Lang(nil))
}
