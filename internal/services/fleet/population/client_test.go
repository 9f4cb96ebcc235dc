package population

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

const (
	testBF4GUID   = "0a1b2c3d-0000-1111-2222-333344445555"
	testBF1GameID = "1234567890123"
)

func newTestClient(battlelogURL, gametoolsURL string) *Client {
	return NewClient(Config{
		BattlelogBaseURL: battlelogURL,
		GametoolsBaseURL: gametoolsURL,
		LookupAttempts:   3,
		RetryBackoff:     time.Millisecond,
		RetryMaxDelay:    2 * time.Millisecond,
		HTTPClient:       &http.Client{Timeout: time.Second},
	})
}

func TestValidateID(t *testing.T) {
	cases := []struct {
		name    string
		game    domain.Game
		raw     string
		wantErr bool
	}{
		{"bf4 guid", domain.GameBF4, testBF4GUID, false},
		{"bf4 braced guid", domain.GameBF4, "{" + testBF4GUID + "}", false},
		{"bf4 rejects game id", domain.GameBF4, testBF1GameID, true},
		{"bf4 rejects garbage", domain.GameBF4, "not-a-guid", true},
		{"bf1 game id", domain.GameBF1, testBF1GameID, false},
		{"bf1 rejects short id", domain.GameBF1, "123456789012", true},
		{"bf1 rejects guid", domain.GameBF1, testBF4GUID, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateID(tc.game, tc.raw)
			if tc.wantErr {
				if domain.CodeOf(err) != domain.CodeValidationFailed {
					t.Fatalf("expected validation failure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestServerInfoBattlelog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "Mozilla/5.0 SeederManager" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`{
			"template": "serverbrowser.show",
			"context": {
				"server": {"name": "Test Server", "slots": {"2": {"current": 40, "max": 64}}},
				"players": [{"personaName": "bot-1"}, {"personaName": "human"}]
			}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	info, err := client.ServerInfo(context.Background(), domain.GameBF4, testBF4GUID)
	if err != nil {
		t.Fatalf("ServerInfo: %v", err)
	}
	if info.Name != "Test Server" {
		t.Fatalf("name = %q", info.Name)
	}
	if info.Total != 40 {
		t.Fatalf("total = %d, want 40", info.Total)
	}
	if len(info.Players) != 2 || info.Players[0] != "bot-1" {
		t.Fatalf("players = %v", info.Players)
	}
}

func TestServerInfoBattlelogNotFoundTemplate(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"template": "errorpages.error404"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	_, err := client.ServerInfo(context.Background(), domain.GameBF4, testBF4GUID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("not-found must not be retried, got %d calls", calls.Load())
	}
}

func TestServerInfoGametools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("gameid") != testBF1GameID {
			t.Errorf("unexpected gameid %q", r.URL.Query().Get("gameid"))
		}
		_, _ = w.Write([]byte(`{
			"prefix": "Operations 24/7",
			"playerAmount": 55,
			"players": [{"name": "bot-2"}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	info, err := client.ServerInfo(context.Background(), domain.GameBF1, testBF1GameID)
	if err != nil {
		t.Fatalf("ServerInfo: %v", err)
	}
	if info.Name != "Operations 24/7" || info.Total != 55 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestServerInfoGametoolsErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "server not found"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	_, err := client.ServerInfo(context.Background(), domain.GameBF1, testBF1GameID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerInfoRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"prefix": "Recovered", "playerAmount": 10}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	info, err := client.ServerInfo(context.Background(), domain.GameBF1, testBF1GameID)
	if err != nil {
		t.Fatalf("ServerInfo: %v", err)
	}
	if info.Name != "Recovered" {
		t.Fatalf("name = %q", info.Name)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestServerInfoExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	_, err := client.ServerInfo(context.Background(), domain.GameBF4, testBF4GUID)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}
