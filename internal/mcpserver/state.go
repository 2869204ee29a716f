package mcpserver

import (
	"errors"
	"slices"
	"sync"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/provision"
)

// Errors returned by tools that depend on getSession.
var (
	ErrNoSession  = errors.New("call getSession first: 当前会话中未保存交互信息，请先调用getSession方法获取安超平台的交互会话")
	ErrNoDatabase = errors.New("call getSession first: 数据库未连接")
)

// State is what getSession loads and what later tools read and extend.
type State struct {
	mu        sync.RWMutex
	api       archer.API
	db        Database
	zone      string
	storages  []models.Storage
	images    []models.Image
	instances []provision.CreatedVM
	volumes   []models.Disk
}

// Snapshot is a copy of the state for reporting.
type Snapshot struct {
	Zone      string
	Storages  []models.Storage
	Images    []models.Image
	Instances []provision.CreatedVM
	Volumes   []models.Disk
	Database  bool
}

func (s *State) reset(api archer.API, db Database, zone string, storages []models.Storage, images []models.Image) {
	s.mu.Lock()
	old := s.db
	s.api, s.db = api, db
	s.zone, s.storages, s.images = zone, storages, images
	s.instances, s.volumes = nil, nil
	s.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			logging.Component("mcp").WithError(err).Warn("Failed to close previous database connection")
		}
	}
}

// Session returns the platform client of the current session. A client
// that lost its session (closed, or re-login refused) counts as none.
func (s *State) Session() (archer.API, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.api == nil || !s.api.IsLoggedIn() {
		return nil, ErrNoSession
	}
	return s.api, nil
}

func (s *State) database() (Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.api == nil {
		return nil, ErrNoSession
	}
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	return s.db, nil
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Zone:      s.zone,
		Storages:  slices.Clone(s.storages),
		Images:    slices.Clone(s.images),
		Instances: slices.Clone(s.instances),
		Volumes:   slices.Clone(s.volumes),
		Database:  s.db != nil,
	}
}

func (s *State) setInventory(zone string, storages []models.Storage, images []models.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if zone != "" {
		s.zone = zone
	}
	s.storages, s.images = storages, images
}

func (s *State) addInstance(vm provision.CreatedVM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = append(s.instances, vm)
}

func (s *State) addVolumes(disks []models.Disk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes = append(s.volumes, disks...)
}

func (s *State) removeVolumes(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes = slices.DeleteFunc(s.volumes, func(d models.Disk) bool {
		return slices.Contains(ids, d.ID)
	})
}

// Close closes the database connection, if any.
func (s *State) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}
