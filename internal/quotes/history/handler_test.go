package history

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcrypt.com/pkg/common"
)

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, sym).Register(r)
	return r
}

func get(r http.Handler, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	return w
}

func TestHandler_History(t *testing.T) {
	svc, _, _ := fixture(t, nil)
	r := newRouter(svc)

	w := get(r, "/prices/history?limit=80")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SourceStore, w.Header().Get("X-Data-Source"))

	var points []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	require.Len(t, points, 80)
	assert.Equal(t, float64(1041), points[0]["price"], "price is a JSON number")
	assert.Equal(t, "1970-01-01T00:00:00.041Z", points[0]["timestamp"])
}

func TestHandler_HistoryErrors(t *testing.T) {
	svc, _, _ := fixture(t, nil)
	r := newRouter(svc)

	cases := []struct {
		url  string
		code int
	}{
		{"/prices/history?limit=abc", http.StatusBadRequest},
		{"/prices/history?limit=0", http.StatusBadRequest},
		{"/prices/history?limit=1001", http.StatusBadRequest},
		{"/prices/history?symbol=DOGEUSDT", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := get(r, tc.url)
		assert.Equal(t, tc.code, w.Code, tc.url)
		var resp common.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotZero(t, resp.Code)
	}
}

func TestHandler_HistoryUnavailable(t *testing.T) {
	svc, _, _ := fixture(t, errors.New("down"))
	r := newRouter(svc)

	w := get(r, "/prices/history?symbol=ETHUSDT")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(r, "/prices/history?limit=80")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cache-only", w.Header().Get("X-Degraded"))
}

func TestHandler_Latest(t *testing.T) {
	svc, _, _ := fixture(t, nil)
	r := newRouter(svc)

	w := get(r, "/prices/latest")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","price":1120,"timestamp":"1970-01-01T00:00:00.12Z"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(r, "/prices/latest?symbol=DOGEUSDT").Code)
}
