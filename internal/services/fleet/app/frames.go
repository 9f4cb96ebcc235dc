package server

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

// Frame types on the operator and worker pools.
const (
	frameSeeders        = "fleet.seeders"
	frameSeederUpdate   = "fleet.seeder.update"
	frameSeederGone     = "fleet.seeder.gone"
	frameAutoStatus     = "fleet.auto.status"
	frameAutoSet        = "fleet.auto.set"
	frameAutoUpdate     = "fleet.auto.update"
	frameTargetSet      = "fleet.target.set"
	frameTargetAssigned = "fleet.target.assigned"
	frameTargetNew      = "fleet.target.new"
	frameStateReport    = "fleet.state.report"
	frameRestart        = "fleet.restart"
	frameOutOfDate      = "fleet.out_of_date"
	frameAck            = "fleet.ack"
	frameError          = "fleet.error"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type seederListPayload struct {
	Seeders []domain.RegisteredSeeder `json:"seeders"`
}

type seederUpdatePayload struct {
	ID     string        `json:"id"`
	Seeder domain.Seeder `json:"seeder"`
}

type seederGonePayload struct {
	ID string `json:"id"`
}

type autoStatusPayload struct {
	Status domain.AutomationStatus `json:"status"`
}

type autoSetPayload struct {
	Enabled *bool `json:"enabled"`
}

type targetSetPayload struct {
	Game      string   `json:"game"`
	SeederIDs []string `json:"seeder_ids"`
	Target    *string  `json:"target"`
}

type targetPayload struct {
	Game   domain.Game         `json:"game"`
	Target domain.ServerTarget `json:"target"`
}

type restartRequestPayload struct {
	SeederIDs []string `json:"seeder_ids"`
}

type restartPayload struct {
	Author string `json:"author"`
}

type stateReportPayload struct {
	Game  string `json:"game"`
	State string `json:"state"`
}

type ackPayload struct {
	OK bool `json:"ok"`
}

// wsPeer serializes frame writes onto one websocket connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func writeWSError(peer *wsPeer, requestID string, code domain.Code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:    string(code),
				Message: message,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// operatorHub fans frames out to every connected operator.
type operatorHub struct {
	mu    sync.Mutex
	peers map[*wsPeer]struct{}
}

func newOperatorHub() *operatorHub {
	return &operatorHub{peers: make(map[*wsPeer]struct{})}
}

func (h *operatorHub) join(peer *wsPeer) {
	h.mu.Lock()
	h.peers[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *operatorHub) leave(peer *wsPeer) {
	h.mu.Lock()
	delete(h.peers, peer)
	h.mu.Unlock()
}

func (h *operatorHub) broadcast(frame wsFrame) {
	h.mu.Lock()
	peers := make([]*wsPeer, 0, len(h.peers))
	for peer := range h.peers {
		peers = append(peers, peer)
	}
	h.mu.Unlock()
	for _, peer := range peers {
		_ = peer.writeFrame(frame)
	}
}

// workerPool tracks connected workers by connection id. A command pushed to
// an id with no live connection is a no-op.
type workerPool struct {
	mu     sync.Mutex
	nextID uint64
	conns  map[string]*wsPeer
}

func newWorkerPool() *workerPool {
	return &workerPool{conns: make(map[string]*wsPeer)}
}

func (p *workerPool) add(peer *wsPeer) string {
	p.mu.Lock()
	p.nextID++
	id := "seeder-" + strconv.FormatUint(p.nextID, 10)
	p.conns[id] = peer
	p.mu.Unlock()
	return id
}

func (p *workerPool) remove(id string) {
	p.mu.Lock()
	delete(p.conns, id)
	p.mu.Unlock()
}

func (p *workerPool) connected(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[id]
	return ok
}

func (p *workerPool) push(id string, frame wsFrame) bool {
	p.mu.Lock()
	peer, ok := p.conns[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	_ = peer.writeFrame(frame)
	return true
}
