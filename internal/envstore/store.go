// Package envstore keeps the registry of platform environments in a JSON
// file and remembers which one was used last.
package envstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/utils"
)

var (
	// ErrNotFound is returned for an unknown environment id.
	ErrNotFound = errors.New("environment not found")
	// ErrExists is returned by Add when the id is taken.
	ErrExists = errors.New("environment already exists")
)

// Defaults returns the environments written on first use.
func Defaults() map[string]models.Environment {
	return map[string]models.Environment{
		"production": {
			ID:             "production",
			Name:           "生产环境",
			URL:            "https://172.118.57.100",
			Username:       "admin",
			Password:       "Admin@123",
			Description:    "主要生产环境，用于正式业务",
			Tags:           []string{"prod", "main", "正式"},
			StorageBackend: "iscsi",
		},
		"test": {
			ID:             "test",
			Name:           "测试环境",
			URL:            "https://192.168.1.100",
			Username:       "admin",
			Password:       "Test@123",
			Description:    "测试环境，用于功能验证",
			Tags:           []string{"test", "dev", "测试"},
			StorageBackend: "iscsi",
		},
		"dev": {
			ID:             "dev",
			Name:           "开发环境",
			URL:            "https://10.0.0.100",
			Username:       "developer",
			Password:       "Dev@123",
			Description:    "开发环境，用于代码调试",
			Tags:           []string{"dev", "debug", "开发"},
			StorageBackend: "local",
		},
	}
}

// Store is the environment registry. It satisfies archer.EnvironmentLookup.
type Store struct {
	path     string
	lastPath string

	mu   sync.RWMutex
	envs map[string]models.Environment
}

// Open loads the registry at path, creating it with Defaults when missing.
// lastPath names the file that records the last used environment.
func Open(path, lastPath string) (*Store, error) {
	s := &Store{path: path, lastPath: lastPath}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load (re)reads the registry file.
func (s *Store) Load() error {
	if !utils.FileExists(s.path) {
		logging.Component("envstore").WithField("path", s.path).Info("Creating default environment registry")
		s.mu.Lock()
		s.envs = Defaults()
		s.mu.Unlock()
		return s.Save()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read environments %s: %w", s.path, err)
	}
	envs := map[string]models.Environment{}
	if err := json.Unmarshal(data, &envs); err != nil {
		return fmt.Errorf("failed to parse environments %s: %w", s.path, err)
	}
	for id, env := range envs {
		env.ID = id
		envs[id] = env
	}

	s.mu.Lock()
	s.envs = envs
	s.mu.Unlock()
	logging.Component("envstore").WithField("count", len(envs)).Debug("Environments loaded")
	return nil
}

// Save writes the registry through a temporary file and a rename.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.envs, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode environments: %w", err)
	}
	return writeAtomic(s.path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// List returns every environment sorted by id.
func (s *Store) List() []models.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Environment, 0, len(s.envs))
	for _, env := range s.envs {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the environment id.
func (s *Store) Get(id string) (models.Environment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envs[id]
	return env, ok
}

// Add registers env and saves the registry.
func (s *Store) Add(env models.Environment) error {
	if strings.TrimSpace(env.ID) == "" {
		return errors.New("environment id is required")
	}
	if env.URL != "" && !utils.IsHTTPSURL(utils.NormalizePlatformURL(env.URL)) {
		return fmt.Errorf("invalid environment URL %q", env.URL)
	}
	s.mu.Lock()
	if _, ok := s.envs[env.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", env.ID, ErrExists)
	}
	s.envs[env.ID] = env
	s.mu.Unlock()

	logging.Component("envstore").WithField("id", env.ID).Info("Environment added")
	return s.Save()
}

// Update merges fields into the environment id. Keys are the JSON field
// names of models.Environment; the id itself cannot change.
func (s *Store) Update(id string, fields map[string]any) (models.Environment, error) {
	s.mu.Lock()
	env, ok := s.envs[id]
	if !ok {
		s.mu.Unlock()
		return models.Environment{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	merged, err := mergeFields(env, fields)
	if err != nil {
		s.mu.Unlock()
		return models.Environment{}, err
	}
	merged.ID = id
	s.envs[id] = merged
	s.mu.Unlock()

	logging.Component("envstore").WithField("id", id).Info("Environment updated")
	return merged, s.Save()
}

func mergeFields(env models.Environment, fields map[string]any) (models.Environment, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return env, err
	}
	current := map[string]any{}
	if err := json.Unmarshal(raw, &current); err != nil {
		return env, err
	}
	for k, v := range fields {
		current[k] = v
	}
	raw, err = json.Marshal(current)
	if err != nil {
		return env, err
	}
	var out models.Environment
	if err := json.Unmarshal(raw, &out); err != nil {
		return env, fmt.Errorf("invalid environment fields: %w", err)
	}
	return out, nil
}

// Delete removes the environment id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.envs[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(s.envs, id)
	s.mu.Unlock()

	logging.Component("envstore").WithField("id", id).Info("Environment deleted")
	return s.Save()
}

// Search returns the environments matching keyword, sorted by id.
func (s *Store) Search(keyword string) []models.Environment {
	var out []models.Environment
	for _, env := range s.List() {
		if env.Matches(keyword) {
			out = append(out, env)
		}
	}
	return out
}

// LastUsed returns the id stored in the last-used file, or "" when none.
func (s *Store) LastUsed() string {
	if s.lastPath == "" {
		return ""
	}
	data, err := os.ReadFile(s.lastPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetLastUsed records id as the last used environment.
func (s *Store) SetLastUsed(id string) error {
	if s.lastPath == "" {
		return nil
	}
	if _, ok := s.Get(id); !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return writeAtomic(s.lastPath, []byte(id+"\n"))
}
