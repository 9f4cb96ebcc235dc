package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func validSettings() string {
	return `{"worker_token": "secret-token", "protocol_version": "3"}`
}

func TestLoadRequiresSettings(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatal("expected load to fail without settings.json")
	}

	writeConfigFile(t, dir, settingsFile, `{"worker_token": "x"}`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected load to fail without protocol_version")
	}
}

func TestLoadDefaultsOptionalFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, settingsFile, validSettings())

	store, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := store.Settings().WorkerToken; got != "secret-token" {
		t.Fatalf("worker token = %q", got)
	}
	if store.IsAuthorizedOperator("anyone") {
		t.Fatal("expected empty operator list")
	}
	servers := store.Servers(domain.GameBF4)
	if len(servers.NeedsSeeding) != 0 || len(servers.KeepAlive) != 0 {
		t.Fatalf("expected empty server lists, got %+v", servers)
	}
}

func TestLoadParsesAllFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, settingsFile, validSettings())
	writeConfigFile(t, dir, operatorsFile, `["op-1", "op-2"]`)
	writeConfigFile(t, dir, serversFile, `{
		"BF4": {
			"needs_seeding": [{"id": "srv-a", "seeded_players": 4, "dead_start": 300, "dead_end": 600}],
			"keep_alive": [{"id": "srv-b", "total_players": 40}]
		}
	}`)

	store, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !store.IsAuthorizedOperator("op-1") || store.IsAuthorizedOperator("op-3") {
		t.Fatal("unexpected operator authorization")
	}
	servers := store.Servers(domain.GameBF4)
	if len(servers.NeedsSeeding) != 1 || servers.NeedsSeeding[0].ID != "srv-a" {
		t.Fatalf("needs_seeding = %+v", servers.NeedsSeeding)
	}
	if len(servers.KeepAlive) != 1 || servers.KeepAlive[0].TotalPlayers != 40 {
		t.Fatalf("keep_alive = %+v", servers.KeepAlive)
	}
}

func TestLoadRejectsInvalidServers(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown game", `{"BF5": {"needs_seeding": [{"id": "x"}]}}`},
		{"missing id", `{"BF4": {"needs_seeding": [{"seeded_players": 2}]}}`},
		{"dead minute out of range", `{"BF4": {"keep_alive": [{"id": "x", "dead_start": 1440}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfigFile(t, dir, settingsFile, validSettings())
			writeConfigFile(t, dir, serversFile, tc.content)
			if _, err := Load(dir); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}

func TestReloadKeepsLastGoodOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, settingsFile, validSettings())
	writeConfigFile(t, dir, operatorsFile, `["op-1"]`)

	store, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Corrupt the file with a newer mtime; the reload must keep op-1.
	path := filepath.Join(dir, operatorsFile)
	writeConfigFile(t, dir, operatorsFile, `{not json`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	store.reloadChanged()

	if !store.IsAuthorizedOperator("op-1") {
		t.Fatal("expected last good operator list to be kept")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, settingsFile, validSettings())

	store, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	path := filepath.Join(dir, settingsFile)
	writeConfigFile(t, dir, settingsFile, `{"worker_token": "rotated", "protocol_version": "4"}`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	store.reloadChanged()

	settings := store.Settings()
	if settings.WorkerToken != "rotated" || settings.ProtocolVersion != "4" {
		t.Fatalf("settings not reloaded: %+v", settings)
	}
}
