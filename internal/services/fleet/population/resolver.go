package population

import (
	"context"
	"errors"
	"time"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

// Resolver turns a raw target identifier into a confirmed ServerTarget by
// validating it and confirming it against the game's population service.
type Resolver struct {
	Service Service
}

// Resolve confirms rawID as a server for game.
//
// A nil rawID always resolves to the empty target with no external call.
// A syntactically invalid identifier fails with CodeValidationFailed before
// any external call; a lookup that answers not-found or exhausts its retries
// fails with CodeResolutionFailed. Provenance (author, timestamp) is filled
// in here; the canonical name comes from the service response.
func (r Resolver) Resolve(ctx context.Context, game domain.Game, rawID *string, author string) (domain.ServerTarget, error) {
	if rawID == nil {
		return domain.EmptyTarget(game, author), nil
	}
	id := *rawID
	if err := ValidateID(game, id); err != nil {
		return domain.ServerTarget{}, err
	}

	info, err := r.Service.ServerInfo(ctx, game, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.ServerTarget{}, domain.WrapError(domain.CodeResolutionFailed, "server not found", err)
		}
		return domain.ServerTarget{}, domain.WrapError(domain.CodeResolutionFailed, "population lookup failed", err)
	}

	name := info.Name
	return domain.ServerTarget{
		Name:   &name,
		ID:     id,
		Game:   game,
		Author: author,
		SetAt:  time.Now().UTC(),
	}, nil
}
