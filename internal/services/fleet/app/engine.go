package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/population"
)

// commandSink delivers push commands to worker connections.
type commandSink interface {
	connected(id string) bool
	push(id string, frame wsFrame) bool
}

// broadcaster fans a frame out to every operator connection.
type broadcaster interface {
	broadcast(frame wsFrame)
}

// automationState is the process-wide automation flag. Mutated only by the
// operator toggle; read by the assignment engine and the balance loop.
type automationState struct {
	mu     sync.Mutex
	status domain.AutomationStatus
}

func newAutomationState() *automationState {
	return &automationState{
		status: domain.AutomationStatus{
			Author:    domain.AutomationAuthor,
			ChangedAt: time.Now().UTC(),
		},
	}
}

func (a *automationState) Status() domain.AutomationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *automationState) Set(enabled bool, author string) domain.AutomationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = domain.AutomationStatus{
		Enabled:   enabled,
		Author:    author,
		ChangedAt: time.Now().UTC(),
	}
	return a.status
}

// engine applies confirmed targets to sets of seeders, subject to the
// state-machine guards, and emits the resulting notifications.
type engine struct {
	registry *domain.Registry
	resolver population.Resolver
	workers  commandSink
	hub      broadcaster
	auto     *automationState
}

// Assign resolves rawTarget and points the given seeders at it.
//
// Manual requests are rejected while automation owns assignment. A request
// whose seeders are all already ineligible fails fast without an external
// lookup. After resolution returns, each seeder's liveness and ownership are
// checked again — resolution is a suspension point and a seeder may have
// disconnected while it was in flight. Per-seeder skips are logged but never
// abort the batch; once the target resolved the call reports success even if
// no seeder was affected.
func (e *engine) Assign(ctx context.Context, game domain.Game, seederIDs []string, rawTarget *string, author string) bool {
	if e.auto.Status().Enabled && author != domain.AutomationAuthor {
		log.Printf("rejected manual assignment by %q: automation is enabled", author)
		return false
	}
	if len(seederIDs) > 0 && !e.anyEligible(game, seederIDs) {
		return false
	}

	target, err := e.resolver.Resolve(ctx, game, rawTarget, author)
	if err != nil {
		log.Printf("assignment for %s by %q rejected: %v", game, author, err)
		return false
	}

	for _, id := range seederIDs {
		if !e.workers.connected(id) {
			log.Printf("%s: seeder %s disconnected before the target applied, skipping", domain.CodeStaleSeeder, id)
			continue
		}
		if !e.registry.SetTarget(id, game, target) {
			log.Printf("%s: seeder %s unknown or does not own %s, skipping", domain.CodeStaleSeeder, id, game)
			continue
		}
		e.workers.push(id, wsFrame{
			Type:    frameTargetNew,
			Payload: mustJSON(targetPayload{Game: game, Target: target}),
		})
	}

	e.hub.broadcast(wsFrame{
		Type:    frameTargetAssigned,
		Payload: mustJSON(targetPayload{Game: game, Target: target}),
	})
	return true
}

func (e *engine) anyEligible(game domain.Game, seederIDs []string) bool {
	for _, id := range seederIDs {
		if !e.workers.connected(id) {
			continue
		}
		seeder, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		status, ok := seeder.Status(game)
		if ok && status.State != domain.StateUnowned {
			return true
		}
	}
	return false
}
