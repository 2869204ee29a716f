package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestBaseChain(t *testing.T) {
	var access bytes.Buffer
	chain := baseChain(&access)

	r := mux.NewRouter()
	r.Handle("/boom", chain.ThenFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	r.Handle("/ok", chain.ThenFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }))

	tests := []struct {
		path string
		want int
	}{
		{path: "/ok", want: http.StatusOK},
		{path: "/boom", want: http.StatusInternalServerError},
		{path: "/missing", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Contains(t, access.String(), `"GET /ok HTTP/1.1" 200`)
}

func TestMountMCPAcceptsEveryMethod(t *testing.T) {
	var got []string
	r := mux.NewRouter()
	mountMCP(r, baseChain(nil), http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		got = append(got, req.Method)
	}))

	for _, m := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(m, mcpPath, nil))
	}
	assert.Equal(t, []string{http.MethodPost, http.MethodGet, http.MethodDelete}, got)
}
