package domain

import (
	"sync"
	"testing"
)

func newTestSeeder() Seeder {
	return NewSeeder("bot-1", "host-1", "1.2.3", map[Game]bool{GameBF4: true})
}

func TestRegisterNotifiesListeners(t *testing.T) {
	var updatedID string
	registry := NewRegistry(RegistryEvents{
		SeederUpdated: func(id string, _ Seeder) { updatedID = id },
	})

	registry.Register("seeder-1", newTestSeeder())

	if updatedID != "seeder-1" {
		t.Fatalf("expected update for seeder-1, got %q", updatedID)
	}
	seeder, ok := registry.Get("seeder-1")
	if !ok {
		t.Fatal("expected seeder-1 to be registered")
	}
	if got := seeder.Games[GameBF4].State; got != StateIdle {
		t.Fatalf("owned game state = %s, want %s", got, StateIdle)
	}
	if got := seeder.Games[GameBF1].State; got != StateUnowned {
		t.Fatalf("unowned game state = %s, want %s", got, StateUnowned)
	}
}

func TestRemoveNotifiesOnce(t *testing.T) {
	removals := 0
	registry := NewRegistry(RegistryEvents{
		SeederRemoved: func(string) { removals++ },
	})
	registry.Register("seeder-1", newTestSeeder())

	registry.Remove("seeder-1")
	registry.Remove("seeder-1")
	registry.Remove("never-existed")

	if removals != 1 {
		t.Fatalf("expected 1 removal event, got %d", removals)
	}
	if _, ok := registry.Get("seeder-1"); ok {
		t.Fatal("expected seeder-1 to be gone")
	}
}

func TestSetGameStateGuards(t *testing.T) {
	registry := NewRegistry(RegistryEvents{})
	registry.Register("seeder-1", newTestSeeder())

	registry.SetGameState("seeder-1", GameBF4, StateActive)
	seeder, _ := registry.Get("seeder-1")
	if got := seeder.Games[GameBF4].State; got != StateActive {
		t.Fatalf("state = %s, want %s", got, StateActive)
	}

	// Transitions into UNOWNED are refused.
	registry.SetGameState("seeder-1", GameBF4, StateUnowned)
	seeder, _ = registry.Get("seeder-1")
	if got := seeder.Games[GameBF4].State; got != StateActive {
		t.Fatalf("state after UNOWNED report = %s, want %s", got, StateActive)
	}

	// Reports for an unowned game are dropped.
	registry.SetGameState("seeder-1", GameBF1, StateActive)
	seeder, _ = registry.Get("seeder-1")
	if got := seeder.Games[GameBF1].State; got != StateUnowned {
		t.Fatalf("unowned game state = %s, want %s", got, StateUnowned)
	}

	// Unknown ids are a no-op rather than a panic.
	registry.SetGameState("missing", GameBF4, StateActive)
}

func TestSetTargetRefusesUnownedGame(t *testing.T) {
	registry := NewRegistry(RegistryEvents{})
	registry.Register("seeder-1", newTestSeeder())

	target := ServerTarget{ID: "srv-1", Game: GameBF1, Author: "op"}
	if registry.SetTarget("seeder-1", GameBF1, target) {
		t.Fatal("expected SetTarget to refuse an unowned game")
	}
	if registry.SetTarget("missing", GameBF4, target) {
		t.Fatal("expected SetTarget to refuse an unknown id")
	}

	target.Game = GameBF4
	if !registry.SetTarget("seeder-1", GameBF4, target) {
		t.Fatal("expected SetTarget to succeed for an owned game")
	}
	seeder, _ := registry.Get("seeder-1")
	if got := seeder.Games[GameBF4].Target.ID; got != "srv-1" {
		t.Fatalf("target id = %q, want srv-1", got)
	}
}

func TestListenerSeesMutationsInOrder(t *testing.T) {
	var mu sync.Mutex
	var lastBroadcast Seeder
	registry := NewRegistry(RegistryEvents{
		SeederUpdated: func(_ string, seeder Seeder) {
			mu.Lock()
			lastBroadcast = seeder
			mu.Unlock()
		},
	})
	registry.Register("seeder-1", newTestSeeder())

	// Race many state reports; the final broadcast must carry whichever
	// mutation landed last, or operators end up displaying a stale record
	// that no later event corrects.
	states := []GameState{StateIdle, StateLaunching, StateJoining, StateActive}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(state GameState) {
			defer wg.Done()
			registry.SetGameState("seeder-1", GameBF4, state)
		}(states[i%len(states)])
	}
	wg.Wait()

	seeder, _ := registry.Get("seeder-1")
	mu.Lock()
	defer mu.Unlock()
	got := lastBroadcast.Games[GameBF4].State
	want := seeder.Games[GameBF4].State
	if got != want {
		t.Fatalf("last broadcast carried %s but registry holds %s", got, want)
	}
}

func TestSnapshotIsSortedAndDetached(t *testing.T) {
	registry := NewRegistry(RegistryEvents{})
	registry.Register("seeder-2", newTestSeeder())
	registry.Register("seeder-1", newTestSeeder())

	snapshot := registry.Snapshot()
	if len(snapshot) != 2 || snapshot[0].ID != "seeder-1" || snapshot[1].ID != "seeder-2" {
		t.Fatalf("unexpected snapshot order: %+v", snapshot)
	}

	// Mutating the snapshot must not leak back into the registry.
	status := snapshot[0].Seeder.Games[GameBF4]
	status.State = StateJoining
	snapshot[0].Seeder.Games[GameBF4] = status

	seeder, _ := registry.Get("seeder-1")
	if got := seeder.Games[GameBF4].State; got != StateIdle {
		t.Fatalf("registry state mutated through snapshot: %s", got)
	}
}
