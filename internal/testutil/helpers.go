package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
)

// MockPlatformBuilder provides a fluent interface for creating a mock
// ArcherOSS resource API. Every handler except login requires the bearer
// token issued by login, and every request body is recorded per path.
//
// Example usage:
//
//	builder := testutil.NewMockPlatform().WithDefaultInventory()
//	server := builder.Build()
//	defer server.Close()
type MockPlatformBuilder struct {
	handlers  map[string]http.HandlerFunc
	useTLS    bool
	skipAuth  bool
	mu        sync.Mutex
	recorded  map[string][]map[string]any
	callCount map[string]int
	// generation counts ExpireSessions calls; it selects the token login issues.
	generation int
	maxLogins  int
}

// NewMockPlatform creates a builder with a working login endpoint.
func NewMockPlatform() *MockPlatformBuilder {
	b := &MockPlatformBuilder{
		handlers:  make(map[string]http.HandlerFunc),
		recorded:  make(map[string][]map[string]any),
		callCount: make(map[string]int),
	}
	b.handlers[PathLogin] = b.loginHandler(true)
	return b
}

// WithTLS enables TLS for the mock server.
func (b *MockPlatformBuilder) WithTLS() *MockPlatformBuilder {
	b.useTLS = true
	return b
}

// WithoutAuth disables the bearer token check.
func (b *MockPlatformBuilder) WithoutAuth() *MockPlatformBuilder {
	b.skipAuth = true
	return b
}

// WithLoginIncomplete makes login answer 200 without a session id.
func (b *MockPlatformBuilder) WithLoginIncomplete() *MockPlatformBuilder {
	b.handlers[PathLogin] = b.loginHandler(false)
	return b
}

// WithLoginLimit makes every login after the first n answer a business
// error, as a locked account does.
func (b *MockPlatformBuilder) WithLoginLimit(n int) *MockPlatformBuilder {
	b.maxLogins = n
	return b
}

// ExpireSessions invalidates every token issued so far. Later calls with an
// old token get 401 and the next login issues a new token. Safe to call
// while the server runs.
func (b *MockPlatformBuilder) ExpireSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
}

// Token returns the token the next login issues.
func (b *MockPlatformBuilder) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenLocked()
}

func (b *MockPlatformBuilder) tokenLocked() string {
	if b.generation == 0 {
		return TestToken
	}
	return fmt.Sprintf("%s-%d", TestToken, b.generation)
}

// WithEndpoint answers path with {"code":0,"msg":"success","data":data}.
func (b *MockPlatformBuilder) WithEndpoint(path string, data any) *MockPlatformBuilder {
	b.handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]any{"code": 0, "msg": "success", "data": data})
	}
	return b
}

// WithBusinessError answers path with HTTP 200 and a non-zero code.
func (b *MockPlatformBuilder) WithBusinessError(path string, code int, msg string) *MockPlatformBuilder {
	b.handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]any{"code": code, "msg": msg, "data": nil})
	}
	return b
}

// WithCustomEndpoint adds a custom handler for the specified path.
func (b *MockPlatformBuilder) WithCustomEndpoint(path string, handler http.HandlerFunc) *MockPlatformBuilder {
	b.handlers[path] = handler
	return b
}

// WithErrorResponse adds a handler that returns the specified HTTP status code.
func (b *MockPlatformBuilder) WithErrorResponse(path string, statusCode int) *MockPlatformBuilder {
	b.handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
		if statusCode >= 400 {
			WriteJSON(w, map[string]string{"msg": http.StatusText(statusCode)})
		}
	}
	return b
}

// WithDefaultInventory registers one host, one Arstor pool with its disk
// type, one image, the license and empty disk and VM listings.
func (b *MockPlatformBuilder) WithDefaultInventory() *MockPlatformBuilder {
	return b.
		WithEndpoint(PathListHost, []map[string]any{{"id": "host-1", "name": "node1", "zoneId": TestZoneID}}).
		WithEndpoint(PathListStorage, []map[string]any{{
			"id": TestStorageManageID, "name": TestStackName, "stackName": TestStackName,
			"type": "arstor", "storageBackend": TestStorageBackend,
		}}).
		WithEndpoint(PathListDiskType, []map[string]any{{"id": TestDiskTypeID, "name": TestStackName}}).
		WithEndpoint(PathListImage, []map[string]any{{
			"id": TestImageID, "name": TestImageName, "storageManageId": TestStorageManageID,
		}}).
		WithEndpoint(PathGetLicense, map[string]any{
			"id": TestLicenseID, "clusterId": TestClusterID, "architecture": "x86_64",
		}).
		WithEndpoint(PathListDisk, []map[string]any{}).
		WithEndpoint(PathListVM, []map[string]any{})
}

// Recorded returns the decoded request bodies received on path.
func (b *MockPlatformBuilder) Recorded(path string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.recorded[path]))
	copy(out, b.recorded[path])
	return out
}

// Calls returns how many requests reached path.
func (b *MockPlatformBuilder) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callCount[path]
}

// Build creates and returns the configured HTTP test server.
func (b *MockPlatformBuilder) Build() *httptest.Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.record(r)

		if r.URL.Path != PathLogin && !b.skipAuth &&
			r.Header.Get(AuthorizationHeader) != "Bearer "+b.Token() {
			w.WriteHeader(http.StatusUnauthorized)
			WriteJSON(w, map[string]string{"msg": "unauthorized"})
			return
		}

		if handler, ok := b.handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		WriteJSON(w, map[string]string{"msg": "Endpoint not found"})
	})

	if b.useTLS {
		return httptest.NewTLSServer(handler)
	}
	return httptest.NewServer(handler)
}

func (b *MockPlatformBuilder) record(r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callCount[r.URL.Path]++
	b.recorded[r.URL.Path] = append(b.recorded[r.URL.Path], body)
}

func (b *MockPlatformBuilder) loginHandler(complete bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		token := b.tokenLocked()
		locked := b.maxLogins > 0 && b.callCount[PathLogin] > b.maxLogins
		b.mu.Unlock()
		if locked {
			WriteJSON(w, map[string]any{"code": 1003, "msg": "账号已锁定", "data": nil})
			return
		}

		data := map[string]any{"userId": TestUserID}
		if complete {
			data["sessionId"] = TestSessionID
		}
		WriteJSON(w, map[string]any{"code": 0, "msg": "success", "token": token, "data": data})
	}
}

// LoadTestData loads test data from a file.
// It uses t.Helper() to report errors at the caller's location.
func LoadTestData(t *testing.T, filename string) []byte {
	t.Helper()
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("Failed to read test data file %s: %v", filename, err)
	}
	return data
}

// WriteJSON writes a JSON response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, data any) {
	w.Header().Set(ContentTypeHeader, ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// AssertContains is a helper that fails the test if the string doesn't contain the substring.
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("String %q does not contain %q", s, substr)
	}
}
