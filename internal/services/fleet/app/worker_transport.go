package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

// Worker handshake headers.
const (
	headerWorkerToken   = "X-Seeder-Token"
	headerWorkerVersion = "X-Seeder-Version"
	headerWorkerName    = "X-Seeder-Name"
	headerWorkerHost    = "X-Seeder-Host"
	headerWorkerGames   = "X-Seeder-Games"
)

var errWorkerTokenMismatch = errors.New("worker token mismatch")

type workerMetaContextKey struct{}

// workerMeta is the handshake metadata a worker presents before the upgrade.
type workerMeta struct {
	name    string
	host    string
	version string
	owned   map[domain.Game]bool
}

// authorizeWorker validates the handshake headers. The token must match the
// current shared secret exactly; everything else is shape validation. Version
// checking is deferred until after the upgrade so the worker can be told it
// is out of date over the socket.
func (s *Server) authorizeWorker(r *http.Request) (workerMeta, error) {
	token := r.Header.Get(headerWorkerToken)
	if token == "" || token != s.store.Settings().WorkerToken {
		return workerMeta{}, errWorkerTokenMismatch
	}

	meta := workerMeta{
		name:    strings.TrimSpace(r.Header.Get(headerWorkerName)),
		host:    strings.TrimSpace(r.Header.Get(headerWorkerHost)),
		version: strings.TrimSpace(r.Header.Get(headerWorkerVersion)),
	}
	if meta.name == "" {
		return workerMeta{}, fmt.Errorf("missing %s header", headerWorkerName)
	}
	if meta.host == "" {
		return workerMeta{}, fmt.Errorf("missing %s header", headerWorkerHost)
	}

	owned, err := parseOwnedGames(r.Header.Get(headerWorkerGames))
	if err != nil {
		return workerMeta{}, err
	}
	meta.owned = owned
	return meta, nil
}

// parseOwnedGames reads the per-game ownership flags, formatted as
// comma-separated "GAME=owned" or "GAME=unowned" pairs.
func parseOwnedGames(raw string) (map[domain.Game]bool, error) {
	owned := make(map[domain.Game]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, flag, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed game ownership entry %q", part)
		}
		game, err := domain.ParseGame(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		switch strings.TrimSpace(flag) {
		case "owned":
			owned[game] = true
		case "unowned":
			owned[game] = false
		default:
			return nil, fmt.Errorf("malformed game ownership entry %q", part)
		}
	}
	if len(owned) == 0 {
		return nil, fmt.Errorf("missing %s header", headerWorkerGames)
	}
	return owned, nil
}

// handleWorkerConn runs the frame loop for one authenticated worker. A stale
// protocol version is told so over the socket and never enters the registry.
func (s *Server) handleWorkerConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	meta, ok := request.Context().Value(workerMetaContextKey{}).(workerMeta)
	if !ok {
		return
	}

	peer := newWSPeer(json.NewEncoder(conn))

	if expected := s.store.Settings().ProtocolVersion; meta.version != expected {
		log.Printf("worker %q rejected: protocol version %q, want %q", meta.name, meta.version, expected)
		_ = peer.writeFrame(wsFrame{Type: frameOutOfDate})
		return
	}

	id := s.workers.add(peer)
	s.registry.Register(id, domain.NewSeeder(meta.name, meta.host, meta.version, meta.owned))
	log.Printf("worker %q connected as %s from %s", meta.name, id, request.RemoteAddr)
	defer func() {
		s.workers.remove(id)
		s.registry.Remove(id)
		log.Printf("worker %s disconnected", id)
	}()

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			continue
		}

		switch frame.Type {
		case frameStateReport:
			s.handleStateReport(id, frame)
		default:
			// Workers have no request/reply surface; unknown frames
			// are dropped.
		}
	}
}

// handleStateReport applies a worker's self-reported game state. Malformed
// reports and reports for unowned games are dropped.
func (s *Server) handleStateReport(id string, frame wsFrame) {
	var payload stateReportPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	game, err := domain.ParseGame(payload.Game)
	if err != nil {
		return
	}
	state, err := domain.ParseGameState(payload.State)
	if err != nil {
		return
	}
	s.registry.SetGameState(id, game, state)
}
