package server

import (
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/net/websocket"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/auth"
	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

type operatorIdentityContextKey struct{}

// handleOperatorConn runs the frame loop for one authorized operator. The
// identity was verified before the upgrade and rides in on the request
// context.
func (s *Server) handleOperatorConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	identity, ok := request.Context().Value(operatorIdentityContextKey{}).(auth.Identity)
	if !ok {
		return
	}

	peer := newWSPeer(json.NewEncoder(conn))
	s.hub.join(peer)
	defer s.hub.leave(peer)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", domain.CodeValidationFailed, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, domain.CodeValidationFailed, "payload too large")
			continue
		}

		switch frame.Type {
		case frameSeeders:
			s.handleListSeeders(peer, frame)
		case frameAutoStatus:
			s.handleAutoStatus(peer, frame)
		case frameTargetSet:
			s.handleTargetSet(conn, peer, identity, frame)
		case frameAutoSet:
			s.handleAutoSet(identity, frame)
		case frameRestart:
			s.handleRestart(identity, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, domain.CodeValidationFailed, "unsupported frame type")
		}
	}
}

// handleListSeeders replies with the full registry snapshot. A request
// without a request id has nowhere to reply to and is dropped.
func (s *Server) handleListSeeders(peer *wsPeer, frame wsFrame) {
	if frame.RequestID == "" {
		return
	}
	_ = peer.writeFrame(wsFrame{
		Type:      frameSeeders,
		RequestID: frame.RequestID,
		Payload:   mustJSON(seederListPayload{Seeders: s.registry.Snapshot()}),
	})
}

func (s *Server) handleAutoStatus(peer *wsPeer, frame wsFrame) {
	if frame.RequestID == "" {
		return
	}
	_ = peer.writeFrame(wsFrame{
		Type:      frameAutoStatus,
		RequestID: frame.RequestID,
		Payload:   mustJSON(autoStatusPayload{Status: s.auto.Status()}),
	})
}

func (s *Server) handleTargetSet(conn *websocket.Conn, peer *wsPeer, identity auth.Identity, frame wsFrame) {
	if frame.RequestID == "" {
		return
	}
	var payload targetSetPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, domain.CodeValidationFailed, "invalid assignment payload")
		return
	}
	game, err := domain.ParseGame(payload.Game)
	if err != nil {
		_ = writeWSError(peer, frame.RequestID, domain.CodeValidationFailed, err.Error())
		return
	}
	if len(payload.SeederIDs) == 0 {
		_ = writeWSError(peer, frame.RequestID, domain.CodeValidationFailed, "seeder_ids is required")
		return
	}

	ok := s.engine.Assign(conn.Request().Context(), game, payload.SeederIDs, payload.Target, identity.DisplayName)
	_ = peer.writeFrame(wsFrame{
		Type:      frameAck,
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{OK: ok}),
	})
}

func (s *Server) handleAutoSet(identity auth.Identity, frame wsFrame) {
	var payload autoSetPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.Enabled == nil {
		return
	}
	status := s.auto.Set(*payload.Enabled, identity.DisplayName)
	s.hub.broadcast(wsFrame{
		Type:    frameAutoUpdate,
		Payload: mustJSON(autoStatusPayload{Status: status}),
	})
}

// handleRestart fans the restart command out to the selected workers.
// Unknown or disconnected ids are skipped.
func (s *Server) handleRestart(identity auth.Identity, frame wsFrame) {
	var payload restartRequestPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	command := wsFrame{
		Type:    frameRestart,
		Payload: mustJSON(restartPayload{Author: identity.DisplayName}),
	}
	for _, id := range payload.SeederIDs {
		s.workers.push(id, command)
	}
}
