package server

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	fleetconfig "github.com/rydklein/bflauncher-server/internal/services/fleet/config"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/population"
)

// fleetAssigner is the slice of the engine the balance loop drives.
type fleetAssigner interface {
	Assign(ctx context.Context, game domain.Game, seederIDs []string, rawTarget *string, author string) bool
}

// serverConfigSource yields the current priority lists for a game.
type serverConfigSource interface {
	Servers(game domain.Game) fleetconfig.GameServers
}

// balancer periodically redistributes the fleet across the configured
// servers, acting exactly as an operator would but tagged with the
// automation author.
type balancer struct {
	interval time.Duration
	engine   fleetAssigner
	registry *domain.Registry
	servers  serverConfigSource
	service  population.Service
	auto     *automationState
	now      func() time.Time

	running atomic.Bool
}

// Run executes balance passes on a fixed interval until ctx ends.
func (b *balancer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runOnce(ctx)
		}
	}
}

// runOnce performs a single balance pass. A pass still in flight makes the
// next tick a no-op; population lookups can outlast the interval.
func (b *balancer) runOnce(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	defer b.running.Store(false)

	if !b.auto.Status().Enabled {
		return
	}

	snapshot := b.registry.Snapshot()
	connectedNames := make(map[string]struct{}, len(snapshot))
	for _, record := range snapshot {
		connectedNames[record.Seeder.Name] = struct{}{}
	}
	now := b.now()
	minute := now.Hour()*60 + now.Minute()

	for _, game := range domain.Games() {
		lists := b.servers.Servers(game)
		if len(lists.NeedsSeeding) == 0 && len(lists.KeepAlive) == 0 {
			continue
		}

		populations := b.queryPopulations(ctx, game, lists, connectedNames)

		var seeders []domain.PlanSeeder
		for _, record := range snapshot {
			status, ok := record.Seeder.Status(game)
			if !ok || status.State == domain.StateUnowned {
				continue
			}
			seeders = append(seeders, domain.PlanSeeder{
				ID:       record.ID,
				TargetID: status.Target.ID,
			})
		}

		plan := domain.PlanBalance(domain.PlanInput{
			NeedsSeeding: lists.NeedsSeeding,
			KeepAlive:    lists.KeepAlive,
			Populations:  populations,
			Seeders:      seeders,
			Minute:       minute,
		})

		for _, assignment := range plan.Assignments {
			serverID := assignment.ServerID
			if !b.engine.Assign(ctx, game, assignment.SeederIDs, &serverID, domain.AutomationAuthor) {
				log.Printf("auto-balance: assigning %d seeder(s) to %s/%s failed", len(assignment.SeederIDs), game, serverID)
			}
		}
		if len(plan.Clear) > 0 {
			if !b.engine.Assign(ctx, game, plan.Clear, nil, domain.AutomationAuthor) {
				log.Printf("auto-balance: clearing %d seeder(s) for %s failed", len(plan.Clear), game)
			}
		}
	}
}

// queryPopulations looks up every configured server once. Servers whose
// lookup fails are left out of the result and skipped for this pass.
func (b *balancer) queryPopulations(ctx context.Context, game domain.Game, lists fleetconfig.GameServers, connectedNames map[string]struct{}) map[string]domain.Population {
	populations := make(map[string]domain.Population)
	for _, spec := range append(append([]domain.ServerSpec{}, lists.NeedsSeeding...), lists.KeepAlive...) {
		if _, done := populations[spec.ID]; done {
			continue
		}
		info, err := b.service.ServerInfo(ctx, game, spec.ID)
		if err != nil {
			log.Printf("auto-balance: population lookup %s/%s failed, skipping server: %v", game, spec.ID, err)
			continue
		}
		seeded := 0
		for _, player := range info.Players {
			if _, ok := connectedNames[player]; ok {
				seeded++
			}
		}
		populations[spec.ID] = domain.Population{Total: info.Total, Seeded: seeded}
	}
	return populations
}
