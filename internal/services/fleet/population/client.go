// Package population talks to the public game-population services: Battlelog
// for BF4 and Gametools for BF1. It validates raw server identifiers, looks
// up live server details, and distinguishes "no such server" from transient
// transport failures.
package population

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/rydklein/bflauncher-server/internal/platform/timeouts"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

const (
	// userAgent identifies the coordinator to the population services.
	userAgent = "Mozilla/5.0 SeederManager"

	defaultBattlelogBaseURL = "https://battlelog.battlefield.com"
	defaultGametoolsBaseURL = "https://api.gametools.network"

	defaultLookupAttempts = 3
	defaultRetryBackoff   = 500 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
)

// ErrNotFound reports that the service answered authoritatively that the
// server does not exist. It is never retried.
var ErrNotFound = errors.New("server not found")

var bf4GUIDPattern = regexp.MustCompile(`^[{]?[0-9a-fA-F]{8}-([0-9a-fA-F]{4}-){3}[0-9a-fA-F]{12}[}]?$`)
var bf1GameIDPattern = regexp.MustCompile(`^[0-9]{13}$`)

// ValidateID checks a raw server identifier syntactically for one game. It
// performs no I/O; a mismatch must fail before any external call is made.
func ValidateID(game domain.Game, raw string) error {
	switch game {
	case domain.GameBF4:
		if !bf4GUIDPattern.MatchString(raw) {
			return domain.NewError(domain.CodeValidationFailed, fmt.Sprintf("%q is not a valid BF4 server GUID", raw))
		}
	case domain.GameBF1:
		if !bf1GameIDPattern.MatchString(raw) {
			return domain.NewError(domain.CodeValidationFailed, fmt.Sprintf("%q is not a valid BF1 game id", raw))
		}
	default:
		return domain.NewError(domain.CodeValidationFailed, fmt.Sprintf("unknown game %q", game))
	}
	return nil
}

// ServerInfo is the live view of one server: its canonical name, the total
// player count, and the reported player names used to tell seeders from
// organic players.
type ServerInfo struct {
	Name    string
	Total   int
	Players []string
}

// Service answers live lookups for a game's servers.
type Service interface {
	ServerInfo(ctx context.Context, game domain.Game, id string) (ServerInfo, error)
}

// Config adjusts the client's endpoints and retry policy. The zero value
// uses the production services with 3 attempts and doubling backoff.
type Config struct {
	BattlelogBaseURL string
	GametoolsBaseURL string
	LookupAttempts   int
	RetryBackoff     time.Duration
	RetryMaxDelay    time.Duration
	HTTPClient       *http.Client
}

// Client implements Service against the real population endpoints.
type Client struct {
	battlelogBaseURL string
	gametoolsBaseURL string
	attempts         int
	backoff          time.Duration
	maxDelay         time.Duration
	httpClient       *http.Client
}

// NewClient builds a population client, filling config defaults.
func NewClient(cfg Config) *Client {
	if cfg.BattlelogBaseURL == "" {
		cfg.BattlelogBaseURL = defaultBattlelogBaseURL
	}
	if cfg.GametoolsBaseURL == "" {
		cfg.GametoolsBaseURL = defaultGametoolsBaseURL
	}
	if cfg.LookupAttempts <= 0 {
		cfg.LookupAttempts = defaultLookupAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: timeouts.PopulationLookup}
	}
	return &Client{
		battlelogBaseURL: cfg.BattlelogBaseURL,
		gametoolsBaseURL: cfg.GametoolsBaseURL,
		attempts:         cfg.LookupAttempts,
		backoff:          cfg.RetryBackoff,
		maxDelay:         cfg.RetryMaxDelay,
		httpClient:       cfg.HTTPClient,
	}
}

// ServerInfo looks up one server, retrying transient failures a bounded
// number of times with doubling backoff. Not-found answers return ErrNotFound
// immediately.
func (c *Client) ServerInfo(ctx context.Context, game domain.Game, id string) (ServerInfo, error) {
	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		info, err := c.lookup(ctx, game, id)
		if err == nil {
			return info, nil
		}
		if errors.Is(err, ErrNotFound) {
			return ServerInfo{}, err
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}
		log.Printf("population lookup %s/%s attempt %d failed, retrying: %v", game, id, attempt, err)
		select {
		case <-ctx.Done():
			return ServerInfo{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
	return ServerInfo{}, fmt.Errorf("lookup %s/%s after %d attempts: %w", game, id, c.attempts, lastErr)
}

func (c *Client) lookup(ctx context.Context, game domain.Game, id string) (ServerInfo, error) {
	switch game {
	case domain.GameBF4:
		return c.lookupBattlelog(ctx, id)
	case domain.GameBF1:
		return c.lookupGametools(ctx, id)
	}
	return ServerInfo{}, fmt.Errorf("unknown game %q", game)
}

type battlelogResponse struct {
	Template string `json:"template"`
	Context  struct {
		Server struct {
			Name  string `json:"name"`
			Slots map[string]struct {
				Current int `json:"current"`
				Max     int `json:"max"`
			} `json:"slots"`
		} `json:"server"`
		Players []struct {
			PersonaName string `json:"personaName"`
		} `json:"players"`
	} `json:"context"`
}

// battlelogSoldierSlots is the Battlelog slot category for playable slots.
const battlelogSoldierSlots = "2"

func (c *Client) lookupBattlelog(ctx context.Context, guid string) (ServerInfo, error) {
	endpoint := fmt.Sprintf("%s/bf4/servers/show/PC/%s", c.battlelogBaseURL, url.PathEscape(guid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("build battlelog request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-AjaxNavigation", "1")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("call battlelog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ServerInfo{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return ServerInfo{}, fmt.Errorf("battlelog status %d", resp.StatusCode)
	}

	var payload battlelogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ServerInfo{}, fmt.Errorf("decode battlelog response: %w", err)
	}
	if payload.Template == "errorpages.error404" {
		return ServerInfo{}, ErrNotFound
	}

	info := ServerInfo{Name: payload.Context.Server.Name}
	if slots, ok := payload.Context.Server.Slots[battlelogSoldierSlots]; ok {
		info.Total = slots.Current
	} else {
		info.Total = len(payload.Context.Players)
	}
	for _, player := range payload.Context.Players {
		info.Players = append(info.Players, player.PersonaName)
	}
	return info, nil
}

type gametoolsResponse struct {
	Error        string `json:"error"`
	Prefix       string `json:"prefix"`
	PlayerAmount int    `json:"playerAmount"`
	Players      []struct {
		Name string `json:"name"`
	} `json:"players"`
}

func (c *Client) lookupGametools(ctx context.Context, gameID string) (ServerInfo, error) {
	endpoint := fmt.Sprintf("%s/bf1/detailedserver/?gameid=%s&lang=en-us&platform=pc", c.gametoolsBaseURL, url.QueryEscape(gameID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("build gametools request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("call gametools: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ServerInfo{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return ServerInfo{}, fmt.Errorf("gametools status %d", resp.StatusCode)
	}

	var payload gametoolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ServerInfo{}, fmt.Errorf("decode gametools response: %w", err)
	}
	if payload.Error != "" {
		return ServerInfo{}, ErrNotFound
	}

	info := ServerInfo{Name: payload.Prefix, Total: payload.PlayerAmount}
	for _, player := range payload.Players {
		info.Players = append(info.Players, player.Name)
	}
	return info, nil
}
