// Package domain holds the coordinator's core state: seeder records, server
// targets, automation status, and the pure planning logic that decides which
// seeder belongs on which server. Nothing in this package performs I/O.
package domain

import (
	"fmt"
	"time"
)

// AutomationAuthor is the synthetic identity attributed to assignments made
// by the auto-balance loop rather than a human operator.
const AutomationAuthor = "System"

// Game identifies a supported title.
type Game string

const (
	GameBF4 Game = "BF4"
	GameBF1 Game = "BF1"
)

// Games returns all supported games in a stable order.
func Games() []Game {
	return []Game{GameBF4, GameBF1}
}

// ParseGame validates a wire-level game name.
func ParseGame(raw string) (Game, error) {
	switch Game(raw) {
	case GameBF4:
		return GameBF4, nil
	case GameBF1:
		return GameBF1, nil
	}
	return "", fmt.Errorf("unknown game %q", raw)
}

// GameState describes a seeder's progress for one game.
type GameState string

const (
	StateUnowned   GameState = "UNOWNED"
	StateIdle      GameState = "IDLE"
	StateLaunching GameState = "LAUNCHING"
	StateJoining   GameState = "JOINING"
	StateActive    GameState = "ACTIVE"
)

// ParseGameState validates a wire-level state name.
func ParseGameState(raw string) (GameState, error) {
	switch GameState(raw) {
	case StateUnowned, StateIdle, StateLaunching, StateJoining, StateActive:
		return GameState(raw), nil
	}
	return "", fmt.Errorf("unknown game state %q", raw)
}

// ServerTarget identifies a specific remote server plus provenance: who set
// it and when. Immutable once constructed; replacing a seeder's target always
// constructs a new value.
type ServerTarget struct {
	// Name is the canonical server name reported by the population service.
	// Nil until resolved and always nil on the empty target.
	Name   *string   `json:"name"`
	ID     string    `json:"id"`
	Game   Game      `json:"game"`
	Author string    `json:"author"`
	SetAt  time.Time `json:"set_at"`
}

// EmptyTarget constructs the canonical "no assignment" target for a game.
func EmptyTarget(game Game, author string) ServerTarget {
	return ServerTarget{
		Game:   game,
		Author: author,
		SetAt:  time.Now().UTC(),
	}
}

// IsEmpty reports whether the target clears an assignment.
func (t ServerTarget) IsEmpty() bool {
	return t.ID == ""
}

// GameStatus is a seeder's per-game state and current assignment.
type GameStatus struct {
	State  GameState    `json:"state"`
	Target ServerTarget `json:"target"`
}

// Seeder is one connected bot worker. Identity fields are set once at
// connect time and never change for the connection's lifetime.
type Seeder struct {
	Name    string              `json:"name"`
	Host    string              `json:"host"`
	Version string              `json:"version"`
	Games   map[Game]GameStatus `json:"games"`
}

// NewSeeder builds the initial record for a freshly connected worker. Games
// the worker does not own start, and permanently stay, UNOWNED.
func NewSeeder(name, host, version string, owned map[Game]bool) Seeder {
	games := make(map[Game]GameStatus, len(Games()))
	for _, game := range Games() {
		state := StateUnowned
		if owned[game] {
			state = StateIdle
		}
		games[game] = GameStatus{
			State:  state,
			Target: EmptyTarget(game, AutomationAuthor),
		}
	}
	return Seeder{
		Name:    name,
		Host:    host,
		Version: version,
		Games:   games,
	}
}

// Status returns the seeder's record for one game.
func (s Seeder) Status(game Game) (GameStatus, bool) {
	status, ok := s.Games[game]
	return status, ok
}

// clone deep-copies the seeder so registry reads never alias internal state.
func (s Seeder) clone() Seeder {
	games := make(map[Game]GameStatus, len(s.Games))
	for game, status := range s.Games {
		games[game] = status
	}
	s.Games = games
	return s
}

// AutomationStatus is the process-wide automation flag plus provenance.
type AutomationStatus struct {
	Enabled   bool      `json:"enabled"`
	Author    string    `json:"author"`
	ChangedAt time.Time `json:"changed_at"`
}
