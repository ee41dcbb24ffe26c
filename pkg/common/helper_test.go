package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcrypt.com/pkg/xerr"
)

func doFail(t *testing.T, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/prices/history", nil)

	FailErr(c, err)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestFailErr_Mapping(t *testing.T) {
	w, resp := doFail(t, xerr.NewErrCode(xerr.RequestParamsError))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1001001, resp.Code)
	assert.Nil(t, resp.Data)

	w, _ = doFail(t, xerr.Wrap(errors.New("influx down"), xerr.Unavailable, "store"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = doFail(t, xerr.New(xerr.NoData, "no data yet"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = doFail(t, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", resp.Message)
}
