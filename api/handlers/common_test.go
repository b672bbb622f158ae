package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ensembleflow/types"
)

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := map[types.ErrorCode]int{
		types.ErrInvalidRequest:  http.StatusBadRequest,
		types.ErrModelNotFound:   http.StatusNotFound,
		types.ErrRateLimited:     http.StatusTooManyRequests,
		types.ErrModelTimeout:    http.StatusGatewayTimeout,
		types.ErrTransportFault:  http.StatusBadGateway,
		types.ErrSynthesisFailed: http.StatusInternalServerError,
	}

	for code, wantStatus := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, types.NewError(code, "boom"), zaptest.NewLogger(t))
		assert.Equal(t, wantStatus, rec.Code, "code %s", code)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(code), resp.Error.Code)
	}
}

func TestWriteErrorExplicitStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrInternalError, "boom").WithHTTPStatus(http.StatusTeapot)
	WriteError(rec, err, nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"prompt":"x","bogus":1}`))

	var dst struct {
		Prompt string `json:"prompt"`
	}
	err := DecodeJSONBody(rec, req, &dst, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeJSONBodyOK(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"prompt":"x"}`))

	var dst struct {
		Prompt string `json:"prompt"`
	}
	require.NoError(t, DecodeJSONBody(rec, req, &dst, nil))
	assert.Equal(t, "x", dst.Prompt)
}
