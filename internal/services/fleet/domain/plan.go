package domain

// ServerSpec is one configured server: how many seeders it should hold, the
// total population it should be kept at, and the minute-of-day window during
// which seeding is suppressed.
type ServerSpec struct {
	ID            string `json:"id"`
	SeededPlayers int    `json:"seeded_players"`
	TotalPlayers  int    `json:"total_players"`
	DeadStart     int    `json:"dead_start"`
	DeadEnd       int    `json:"dead_end"`
}

// DeadAt reports whether minute (minute of day) falls inside the server's
// dead interval. An interval may wrap midnight; a zero-width interval means
// no suppression.
func (s ServerSpec) DeadAt(minute int) bool {
	if s.DeadStart == s.DeadEnd {
		return false
	}
	if s.DeadStart < s.DeadEnd {
		return minute >= s.DeadStart && minute < s.DeadEnd
	}
	return minute >= s.DeadStart || minute < s.DeadEnd
}

// Population is the live player breakdown for one server. Seeded is the
// number of reported players whose name matches a connected seeder identity;
// the rest of Total is organic.
type Population struct {
	Total  int
	Seeded int
}

// PlanSeeder is one connected, game-owning seeder as the planner sees it:
// its connection id and the server it is currently pointed at ("" when
// unassigned).
type PlanSeeder struct {
	ID       string
	TargetID string
}

// PlanInput is everything one balance pass needs for a single game.
// Populations holds query results keyed by server id; servers missing from
// the map failed their lookup and are skipped for this run.
type PlanInput struct {
	NeedsSeeding []ServerSpec
	KeepAlive    []ServerSpec
	Populations  map[string]Population
	Seeders      []PlanSeeder
	Minute       int
}

// ServerAssignment is the planner's instruction to point seeders at a server.
type ServerAssignment struct {
	ServerID  string
	SeederIDs []string
}

// Plan is the outcome of one balance pass: pool seeders to move, and stale
// seeders to clear. Seeders already correctly placed appear in neither list.
type Plan struct {
	Assignments []ServerAssignment
	Clear       []string
}

// PlanBalance computes seeder movement for one game.
//
// Seeders assigned to a configured server stay reserved for it and count
// toward its shortfall before anything is pulled from the available pool.
// Priority-list order is authoritative: an earlier server has its need
// satisfied before a later one, even if that starves the later one entirely.
// Pool seeders left over at the end are cleared unless already unassigned.
func PlanBalance(in PlanInput) Plan {
	configured := make(map[string]bool)
	for _, spec := range in.NeedsSeeding {
		configured[spec.ID] = true
	}
	for _, spec := range in.KeepAlive {
		configured[spec.ID] = true
	}

	assigned := make(map[string]int)
	var pool []PlanSeeder
	for _, seeder := range in.Seeders {
		if seeder.TargetID != "" && configured[seeder.TargetID] {
			assigned[seeder.TargetID]++
			continue
		}
		pool = append(pool, seeder)
	}

	var plan Plan
	pulls := make(map[string]int)
	pullOrder := make(map[string]int)
	pull := func(serverID string, want int) {
		for want > 0 && len(pool) > 0 {
			seeder := pool[0]
			pool = pool[1:]
			index, ok := pullOrder[serverID]
			if !ok {
				index = len(plan.Assignments)
				pullOrder[serverID] = index
				plan.Assignments = append(plan.Assignments, ServerAssignment{ServerID: serverID})
			}
			plan.Assignments[index].SeederIDs = append(plan.Assignments[index].SeederIDs, seeder.ID)
			pulls[serverID]++
			want--
		}
	}

	for _, spec := range in.NeedsSeeding {
		if spec.DeadAt(in.Minute) {
			continue
		}
		pop, ok := in.Populations[spec.ID]
		if !ok {
			continue
		}
		// A seeder en route is assigned but not yet in the population;
		// one that arrived is both. Count our presence as whichever view
		// is larger so neither window double-books the server. Pulls from
		// an earlier entry count too, in case an id is listed twice.
		have := assigned[spec.ID]
		if pop.Seeded > have {
			have = pop.Seeded
		}
		have += pulls[spec.ID]
		pull(spec.ID, spec.SeededPlayers-have)
	}

	for _, spec := range in.KeepAlive {
		if spec.DeadAt(in.Minute) {
			continue
		}
		pop, ok := in.Populations[spec.ID]
		if !ok {
			continue
		}
		enRoute := assigned[spec.ID] - pop.Seeded
		if enRoute < 0 {
			enRoute = 0
		}
		have := pop.Total + enRoute + pulls[spec.ID]
		if have >= spec.TotalPlayers {
			continue
		}
		pull(spec.ID, spec.TotalPlayers-have)
	}

	for _, seeder := range pool {
		if seeder.TargetID == "" {
			continue
		}
		plan.Clear = append(plan.Clear, seeder.ID)
	}
	return plan
}
