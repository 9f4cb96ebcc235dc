// Package config loads and hot-reloads the coordinator's external
// configuration files: coordinator settings (worker shared secret, protocol
// version), the authorized-operator list, and per-game server lists. A
// malformed reload keeps the last good value and reports the failure; it
// never takes the process down.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

const (
	settingsFile  = "settings.json"
	operatorsFile = "operators.json"
	serversFile   = "servers.json"
)

const minutesPerDay = 24 * 60

// Settings carries the worker-pool handshake requirements.
type Settings struct {
	WorkerToken     string `json:"worker_token"`
	ProtocolVersion string `json:"protocol_version"`
}

// GameServers is one game's ordered priority lists.
type GameServers struct {
	NeedsSeeding []domain.ServerSpec `json:"needs_seeding"`
	KeepAlive    []domain.ServerSpec `json:"keep_alive"`
}

// Store owns the last good parse of every configuration file and refreshes
// them when the files change on disk.
type Store struct {
	dir string

	mu        sync.Mutex
	settings  Settings
	operators map[string]struct{}
	servers   map[domain.Game]GameServers
	modTimes  map[string]time.Time
}

// Load reads all configuration files under dir. The settings file must parse
// at startup; the operator and server files default to empty when absent.
func Load(dir string) (*Store, error) {
	store := &Store{
		dir:       dir,
		operators: make(map[string]struct{}),
		servers:   make(map[domain.Game]GameServers),
		modTimes:  make(map[string]time.Time),
	}

	if err := store.reloadSettings(); err != nil {
		return nil, fmt.Errorf("load %s: %w", settingsFile, err)
	}
	if err := store.reloadOperators(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", operatorsFile, err)
	}
	if err := store.reloadServers(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", serversFile, err)
	}
	return store, nil
}

// Settings returns the current handshake settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// IsAuthorizedOperator reports whether identity id may control the fleet.
func (s *Store) IsAuthorizedOperator(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.operators[id]
	return ok
}

// Servers returns the configured priority lists for one game.
func (s *Store) Servers(game domain.Game) GameServers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servers[game]
}

// Watch polls the configuration files until ctx ends, reloading any file
// whose modification time changed. Parse failures keep the previous value.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reloadChanged()
		}
	}
}

func (s *Store) reloadChanged() {
	reloaders := []struct {
		file   string
		reload func() error
	}{
		{settingsFile, s.reloadSettings},
		{operatorsFile, s.reloadOperators},
		{serversFile, s.reloadServers},
	}
	for _, r := range reloaders {
		if !s.fileChanged(r.file) {
			continue
		}
		if err := r.reload(); err != nil {
			log.Printf("%s: %v", domain.CodeConfigReloadFailed, domain.WrapError(domain.CodeConfigReloadFailed, fmt.Sprintf("reload %s, keeping previous values", r.file), err))
		}
	}
}

func (s *Store) fileChanged(file string) bool {
	info, err := os.Stat(filepath.Join(s.dir, file))
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modTimes[file].Equal(info.ModTime()) {
		return false
	}
	return true
}

func (s *Store) readFile(file string, target any) error {
	path := filepath.Join(s.dir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	s.mu.Lock()
	s.modTimes[file] = info.ModTime()
	s.mu.Unlock()
	return nil
}

func (s *Store) reloadSettings() error {
	var settings Settings
	if err := s.readFile(settingsFile, &settings); err != nil {
		return err
	}
	if settings.WorkerToken == "" {
		return errors.New("worker_token is required")
	}
	if settings.ProtocolVersion == "" {
		return errors.New("protocol_version is required")
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return nil
}

func (s *Store) reloadOperators() error {
	var ids []string
	if err := s.readFile(operatorsFile, &ids); err != nil {
		return err
	}
	operators := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		operators[id] = struct{}{}
	}
	s.mu.Lock()
	s.operators = operators
	s.mu.Unlock()
	return nil
}

func (s *Store) reloadServers() error {
	raw := make(map[string]GameServers)
	if err := s.readFile(serversFile, &raw); err != nil {
		return err
	}
	servers := make(map[domain.Game]GameServers, len(raw))
	for name, lists := range raw {
		game, err := domain.ParseGame(name)
		if err != nil {
			return err
		}
		for _, spec := range append(append([]domain.ServerSpec{}, lists.NeedsSeeding...), lists.KeepAlive...) {
			if spec.ID == "" {
				return fmt.Errorf("%s: server id is required", name)
			}
			if spec.DeadStart < 0 || spec.DeadStart >= minutesPerDay || spec.DeadEnd < 0 || spec.DeadEnd >= minutesPerDay {
				return fmt.Errorf("%s: server %s dead interval out of range", name, spec.ID)
			}
		}
		servers[game] = lists
	}
	s.mu.Lock()
	s.servers = servers
	s.mu.Unlock()
	return nil
}
