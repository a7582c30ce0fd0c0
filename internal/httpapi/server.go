// Package httpapi exposes rooms, the order cache, the RPC relay and the
// transaction controller over HTTP.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/park285/cheese-escrow/internal/escrow"
	"github.com/park285/cheese-escrow/internal/msgcat"
	"github.com/park285/cheese-escrow/internal/obslog"
	"github.com/park285/cheese-escrow/internal/room"
	"github.com/park285/cheese-escrow/internal/roomauth"
	"github.com/park285/cheese-escrow/internal/rpcrelay"
	"github.com/park285/cheese-escrow/internal/txlife"
	"github.com/park285/cheese-escrow/pkg/escrowdto"
)

const maxBody = 1 << 20

type Deps struct {
	Rooms      *room.Manager
	Auth       *roomauth.Service
	Reconciler *escrow.Reconciler
	Relay      *rpcrelay.Upstream
	// Escrow is nil when no server-side wallet is configured.
	Escrow    *txlife.Escrow
	Msgs      *msgcat.Catalog
	RoomStore string
	// Origins are extra host patterns allowed to open the order feed.
	// Same-host upgrades are always accepted.
	Origins []string
	Logger  *zap.Logger
}

type Server struct {
	d      Deps
	msgs   *msgcat.Catalog
	logger *zap.Logger
}

func New(d Deps) *Server {
	msgs := d.Msgs
	if msgs == nil {
		msgs = msgcat.Default()
	}
	return &Server{d: d, msgs: msgs, logger: obslog.Or(d.Logger, "httpapi")}
}

// NewRouter returns a new router with all the routes defined in this package.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/rooms/resolve/{shortHash}", s.handleResolve).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/join", s.handleJoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/order", s.handleOrder).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/order/ws", s.handleOrderFeed).Methods(http.MethodGet)

	api.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)

	if s.d.Escrow != nil {
		api.HandleFunc("/tx/{action}", s.handleTx).Methods(http.MethodPost)
		api.HandleFunc("/tx/slots", s.handleTxRecords).Methods(http.MethodGet)
		api.HandleFunc("/tx/slots/{slot}", s.handleTxRecord).Methods(http.MethodGet)
	}
	return r
}

// Handler is the router wrapped with CORS.
func (s *Server) Handler() http.Handler { return WithCORS(s.NewRouter()) }

// WithCORS allows browser clients on any origin.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, escrowdto.ErrorResponse{Error: escrowdto.DomainError{Code: code, Message: message, Retryable: retryable}})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
}
