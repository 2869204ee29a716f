package envstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "environments.json")
	s, err := Open(path, filepath.Join(dir, ".last_disk_env"))
	require.NoError(t, err)
	return s, path
}

func TestOpenCreatesDefaults(t *testing.T) {
	s, path := openTemp(t)

	ids := []string{}
	for _, env := range s.List() {
		ids = append(ids, env.ID)
	}
	assert.Equal(t, []string{"dev", "production", "test"}, ids)

	prod, ok := s.Get("production")
	require.True(t, ok)
	assert.Equal(t, "https://172.118.57.100", prod.URL)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "environments.json")
	content := `{"lab": {"name": "Lab", "url": "https://10.1.1.1", "tags": ["x"]}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := Open(path, "")
	require.NoError(t, err)
	env, ok := s.Get("lab")
	require.True(t, ok)
	assert.Equal(t, "lab", env.ID, "id comes from the map key")
	assert.Equal(t, "Lab", env.Name)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environments.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Open(path, "")
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name    string
		env     models.Environment
		wantErr error
		anyErr  bool
	}{
		{name: "new", env: models.Environment{ID: "lab", URL: "10.2.2.2"}},
		{name: "duplicate", env: models.Environment{ID: "production"}, wantErr: ErrExists},
		{name: "missing id", env: models.Environment{URL: "https://x"}, anyErr: true},
		{name: "bad url", env: models.Environment{ID: "bad", URL: "ftp://x"}, anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := openTemp(t)
			err := s.Add(tt.env)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				_, ok := s.Get(tt.env.ID)
				assert.True(t, ok)
			}
		})
	}
}

func TestAddPersists(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Add(models.Environment{ID: "lab", Name: "Lab", URL: "https://10.2.2.2"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]models.Environment
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "lab")

	reopened, err := Open(path, "")
	require.NoError(t, err)
	assert.Len(t, reopened.List(), 4)
}

func TestUpdate(t *testing.T) {
	s, _ := openTemp(t)

	env, err := s.Update("test", map[string]any{"url": "https://192.168.9.9", "tags": []string{"qa"}, "id": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "test", env.ID)
	assert.Equal(t, "https://192.168.9.9", env.URL)
	assert.Equal(t, []string{"qa"}, env.Tags)
	assert.Equal(t, "测试环境", env.Name, "untouched fields survive")

	_, err = s.Update("nope", map[string]any{"url": "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update("test", map[string]any{"tags": 5})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Delete("dev"))
	_, ok := s.Get("dev")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete("dev"), ErrNotFound)
}

func TestSearch(t *testing.T) {
	s, _ := openTemp(t)

	tests := []struct {
		keyword string
		want    []string
	}{
		{keyword: "PROD", want: []string{"production"}},
		{keyword: "dev", want: []string{"dev", "test"}},
		{keyword: "调试", want: []string{"dev"}},
		{keyword: "nothing", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			var got []string
			for _, env := range s.Search(tt.keyword) {
				got = append(got, env.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLastUsed(t *testing.T) {
	s, _ := openTemp(t)
	assert.Empty(t, s.LastUsed())

	require.NoError(t, s.SetLastUsed("test"))
	assert.Equal(t, "test", s.LastUsed())

	assert.ErrorIs(t, s.SetLastUsed("missing"), ErrNotFound)
	assert.Equal(t, "test", s.LastUsed())
}
