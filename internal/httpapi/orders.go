package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-escrow/internal/escrow"
)

// entryFor returns the cached entry, reading through on a miss or when
// refresh is set.
func (s *Server) entryFor(ctx context.Context, code string, refresh bool) (escrow.Entry, error) {
	cache := s.d.Reconciler.Cache()
	if e, ok := cache.Get(code); ok && !refresh {
		return e, nil
	}
	if _, err := s.d.Reconciler.FetchOrder(ctx, code); err != nil {
		return escrow.Entry{}, err
	}
	e, _ := cache.Get(code)
	return e, nil
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(mux.Vars(r)["code"])
	refresh := r.URL.Query().Get("refresh") != ""
	e, err := s.entryFor(r.Context(), code, refresh)
	if err != nil {
		var re *escrow.ReadError
		if errors.As(err, &re) {
			writeError(w, http.StatusBadGateway, "read_failed", err.Error(), true)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, entryDTO(e))
}

const feedPing = 30 * time.Second

// handleOrderFeed streams cache entries for one room. The current entry is
// sent first, then every later write.
func (s *Server) handleOrderFeed(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(mux.Vars(r)["code"])
	if code == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "room code required", false)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.d.Origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("order_feed_accept_error", zap.String("room_code", code), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	updates, cancel := s.d.Reconciler.Cache().Subscribe(code)
	defer cancel()

	// the feed is write-only; CloseRead ends ctx when the peer goes away
	ctx := conn.CloseRead(r.Context())

	// a read-through on a miss also lands on updates; lastVersion drops it
	var lastVersion uint64
	if e, err := s.entryFor(ctx, code, false); err == nil {
		if err := s.writeEntry(ctx, conn, e); err != nil {
			return
		}
		lastVersion = e.Version
	} else {
		s.logger.Warn("order_feed_initial_error", zap.String("room_code", code), zap.Error(err))
	}

	ticker := time.NewTicker(feedPing)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e, ok := <-updates:
			if !ok {
				return
			}
			if e.Version <= lastVersion {
				continue
			}
			if err := s.writeEntry(ctx, conn, e); err != nil {
				return
			}
			lastVersion = e.Version
		case <-ticker.C:
			pingCtx, done := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			done()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEntry(ctx context.Context, conn *websocket.Conn, e escrow.Entry) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(wctx, conn, entryDTO(e)); err != nil {
		s.logger.Debug("order_feed_write_error", zap.String("room_code", e.RoomCode), zap.Error(err))
		return err
	}
	return nil
}
