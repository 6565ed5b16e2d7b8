package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
	"github.com/rokytory/winx-code-agent/internal/tool"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "hello", result["message"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, ErrCodeInvalidRequest, result.Error.Code)
	assert.Equal(t, "Invalid input", result.Error.Message)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind string
		want int
	}{
		{"", http.StatusOK},
		{dispatch.KindPermissionDenied, http.StatusForbidden},
		{dispatch.KindNotInitialized, http.StatusConflict},
		{dispatch.KindSessionBusy, http.StatusConflict},
		{dispatch.KindTargetNotEmpty, http.StatusConflict},
		{dispatch.KindJobNotFound, http.StatusNotFound},
		{dispatch.KindNoMatch, http.StatusUnprocessableEntity},
		{dispatch.KindAmbiguousMatch, http.StatusUnprocessableEntity},
		{dispatch.KindInvalidInput, http.StatusBadRequest},
		{dispatch.KindBlockSyntax, http.StatusBadRequest},
		{dispatch.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			res := &tool.Result{IsError: tt.kind != "", Kind: tt.kind}
			assert.Equal(t, tt.want, statusFor(res))
		})
	}
}
