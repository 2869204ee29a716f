package testutil_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, client *http.Client, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set(testutil.ContentTypeHeader, testutil.ContentTypeJSON)
	if token != "" {
		req.Header.Set(testutil.AuthorizationHeader, "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestMockPlatformLogin(t *testing.T) {
	server := testutil.NewMockPlatform().Build()
	defer server.Close()

	resp, body := post(t, server.Client(), server.URL+testutil.PathLogin, "", map[string]string{"loginName": "admin"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testutil.TestToken, body["token"])

	data := body["data"].(map[string]any)
	assert.Equal(t, testutil.TestSessionID, data["sessionId"])
	assert.Equal(t, testutil.TestUserID, data["userId"])
}

func TestMockPlatformRequiresToken(t *testing.T) {
	server := testutil.NewMockPlatform().WithDefaultInventory().Build()
	defer server.Close()

	resp, _ := post(t, server.Client(), server.URL+testutil.PathListHost, "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := post(t, server.Client(), server.URL+testutil.PathListHost, testutil.TestToken, map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["code"])
}

func TestMockPlatformExpireSessions(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory()
	server := builder.Build()
	defer server.Close()

	assert.Equal(t, testutil.TestToken, builder.Token())
	builder.ExpireSessions()
	fresh := builder.Token()
	assert.NotEqual(t, testutil.TestToken, fresh)

	resp, _ := post(t, server.Client(), server.URL+testutil.PathListHost, testutil.TestToken, map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, body := post(t, server.Client(), server.URL+testutil.PathLogin, "", map[string]string{"loginName": "admin"})
	assert.Equal(t, fresh, body["token"])

	resp, _ = post(t, server.Client(), server.URL+testutil.PathListHost, fresh, map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMockPlatformLoginLimit(t *testing.T) {
	builder := testutil.NewMockPlatform().WithLoginLimit(1)
	server := builder.Build()
	defer server.Close()

	_, body := post(t, server.Client(), server.URL+testutil.PathLogin, "", map[string]string{"loginName": "admin"})
	assert.EqualValues(t, 0, body["code"])

	_, body = post(t, server.Client(), server.URL+testutil.PathLogin, "", map[string]string{"loginName": "admin"})
	assert.EqualValues(t, 1003, body["code"])
	assert.Nil(t, body["token"])
	assert.Equal(t, 2, builder.Calls(testutil.PathLogin))
}

func TestMockPlatformRecordsPayloads(t *testing.T) {
	builder := testutil.NewMockPlatform().WithEndpoint(testutil.PathRemoveDisk, nil)
	server := builder.Build()
	defer server.Close()

	post(t, server.Client(), server.URL+testutil.PathRemoveDisk, testutil.TestToken, map[string]any{"ids": []string{"a", "b"}})

	recorded := builder.Recorded(testutil.PathRemoveDisk)
	require.Len(t, recorded, 1)
	assert.Equal(t, []any{"a", "b"}, recorded[0]["ids"])
	assert.Equal(t, 1, builder.Calls(testutil.PathRemoveDisk))
}

func TestMockPlatformErrors(t *testing.T) {
	tests := []struct {
		name       string
		builder    *testutil.MockPlatformBuilder
		path       string
		wantStatus int
		wantCode   float64
	}{
		{
			name:       "business error keeps HTTP 200",
			builder:    testutil.NewMockPlatform().WithBusinessError(testutil.PathCreateDisk, 500, "空间不足"),
			path:       testutil.PathCreateDisk,
			wantStatus: http.StatusOK,
			wantCode:   500,
		},
		{
			name:       "HTTP error status",
			builder:    testutil.NewMockPlatform().WithErrorResponse(testutil.PathListDisk, http.StatusBadGateway),
			path:       testutil.PathListDisk,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unknown endpoint",
			builder:    testutil.NewMockPlatform(),
			path:       "/api/resource/unknown",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := tt.builder.Build()
			defer server.Close()

			resp, body := post(t, server.Client(), server.URL+tt.path, testutil.TestToken, map[string]any{})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantCode != 0 {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestMockPlatformTLS(t *testing.T) {
	server := testutil.NewMockPlatform().WithTLS().Build()
	defer server.Close()

	resp, _ := post(t, server.Client(), server.URL+testutil.PathLogin, "", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.AssertContains(t, server.URL, "https://")
}
