package receiver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/SB-IM/camlink/internal/receiver/httpx"
	"github.com/SB-IM/camlink/internal/session"
)

// handleOffer answers a sender's offer. Every accepted offer is a new connection.
func (s *Service) handleOffer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var offer session.Description
		if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
			s.logger.Err(err).Msg("could not decode request json body")
			httpx.Error(w, httpx.ErrUnmarshalJSON, http.StatusBadRequest)
			return
		}

		conn, answer, err := s.accept(r.Context(), offer)
		if err != nil {
			s.logger.Err(err).Str("category", session.Category(err)).Msg("could not accept offer")
			switch {
			case errors.Is(err, session.ErrMalformedOffer):
				httpx.Error(w, httpx.ErrMalformedOffer, http.StatusBadRequest)
			case errors.Is(err, errCreatePeer):
				httpx.Error(w, httpx.ErrFailedToCreatePeer, http.StatusInternalServerError)
			default:
				httpx.Error(w, httpx.ErrNegotiation, http.StatusInternalServerError)
			}
			return
		}
		logger := s.logger.With().Str("connection_id", conn.ID()).Logger()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(answer); err != nil {
			logger.Err(err).Msg("could not encode json response body")
			return
		}
		logger.Info().Msg("sent answer to sender")
	}
}

type connectionInfo struct {
	ID     string              `json:"id"`
	Role   session.Role        `json:"role"`
	State  session.State       `json:"state"`
	Tracks []session.TrackInfo `json:"tracks"`
}

// handleConnections lists the live connections.
func (s *Service) handleConnections() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns := s.registry.Connections()
		infos := make([]connectionInfo, 0, len(conns))
		for _, c := range conns {
			infos = append(infos, connectionInfo{
				ID:     c.ID(),
				Role:   c.Role(),
				State:  c.State(),
				Tracks: c.Tracks(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(infos); err != nil {
			s.logger.Err(err).Msg("could not encode json response body")
		}
	}
}

// handleCloseConnection closes the connection named in the path.
func (s *Service) handleCloseConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		conn, err := s.registry.Lookup(id)
		if err != nil {
			s.logger.Warn().Err(err).Str("category", session.Category(err)).Msg("could not close connection")
			httpx.Error(w, httpx.ErrConnectionNotFound, http.StatusNotFound)
			return
		}
		if err := conn.Close(); err != nil {
			s.logger.Err(err).Str("connection_id", id).Msg("could not close connection")
			httpx.Error(w, httpx.ErrCloseConnection, http.StatusInternalServerError)
			return
		}
		s.logger.Info().Str("connection_id", id).Msg("closed connection on request")
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEvents streams connection events to a WebSocket client.
func (s *Service) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Err(err).Msg("could not accept websocket")
			return
		}
		defer c.Close(websocket.StatusInternalError, "")

		events, unsubscribe := s.broker.subscribe()
		defer unsubscribe()

		ctx := c.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				c.Close(websocket.StatusNormalClosure, "")
				return
			case e := <-events:
				if err := wsjson.Write(ctx, c, e); err != nil {
					s.logger.Debug().Err(err).Msg("could not write event")
					return
				}
			}
		}
	}
}
