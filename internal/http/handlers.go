// Package httpapi exposes the dispatch core over HTTP. Handlers translate
// transport concerns (JSON, status codes, callback routing) and delegate all
// semantics to the engines.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/negotiation"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	logger      *slog.Logger
	geo         *geo.Index
	directory   *directory.Directory
	matcher     *match.Engine
	negotiation *negotiation.Engine
	kafka       *ingest.KafkaProducer // optional; nil disables publishing
	ws          *notify.WSGateway
	mux         *mux.Router
}

type Deps struct {
	Logger      *slog.Logger
	Geo         *geo.Index
	Directory   *directory.Directory
	Matcher     *match.Engine
	Negotiation *negotiation.Engine
	Kafka       *ingest.KafkaProducer
	WS          *notify.WSGateway
}

func NewServer(d Deps) *Server {
	s := &Server{
		logger:      d.Logger,
		geo:         d.Geo,
		directory:   d.Directory,
		matcher:     d.Matcher,
		negotiation: d.Negotiation,
		kafka:       d.Kafka,
		ws:          d.WS,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users/role", s.handleSetRole).Methods("POST")
	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/stop", s.handleStopSharing).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/counter-reply", s.handleCounterReply).Methods("POST")
	api.HandleFunc("/candidates", s.handleCandidates).Methods("POST")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{order_id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{order_id}/accept", s.handleDriverAccept).Methods("POST")
	api.HandleFunc("/orders/{order_id}/reject", s.handleDriverReject).Methods("POST")
	api.HandleFunc("/orders/{order_id}/counter", s.handleBeginCounter).Methods("POST")
	api.HandleFunc("/orders/{order_id}/counter/accept", s.handleAcceptCounter).Methods("POST")
	api.HandleFunc("/orders/{order_id}/counter/reject", s.handleRejectCounter).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{handle}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type setRoleRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role := models.Role(req.Role)
	if req.UserID == "" || (role != models.RoleClient && role != models.RoleDriver) {
		http.Error(w, "user_id and role (client|driver) required", http.StatusBadRequest)
		return
	}
	if err := s.directory.SetRole(r.Context(), req.UserID, req.DisplayName, role); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerDriverRequest struct {
	DisplayName    string                  `json:"display_name"`
	ContactChannel string                  `json:"contact_channel"`
	Attributes     models.DriverAttributes `json:"attributes"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ContactChannel == "" {
		http.Error(w, "contact_channel required", http.StatusBadRequest)
		return
	}
	id, err := s.directory.Register(r.Context(), directory.Registration{
		DisplayName:    req.DisplayName,
		ContactChannel: req.ContactChannel,
		Attributes:     req.Attributes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"driver_id": id})
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !(models.Coord{Lat: req.Lat, Lon: req.Lon}).Valid() {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	at := time.Now().UTC()
	if err := s.geo.UpsertPosition(r.Context(), driverID, req.Lat, req.Lon, at); err != nil {
		s.writeError(w, err)
		return
	}
	observability.LocationUpdates.Inc()
	if s.kafka != nil {
		ping := ingest.LocationPing{DriverID: driverID, Lat: req.Lat, Lon: req.Lon, At: at}
		if err := s.kafka.PublishLocation(ping); err != nil {
			// The store already has the ping; the mirror will catch up.
			s.logger.Warn("kafka publish failed", "driver_id", driverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopSharing(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if err := s.directory.SetActive(r.Context(), driverID, false); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type candidatesRequest struct {
	Location    *models.Coord `json:"location,omitempty"`
	Nationality string        `json:"nationality,omitempty"`
	VehicleType string        `json:"vehicle_type,omitempty"`
	Gender      string        `json:"gender,omitempty"`
	Limit       int           `json:"limit,omitempty"`
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	var req candidatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cands, err := s.matcher.FindCandidates(r.Context(), req.Location, match.Filters{
		Nationality: req.Nationality,
		VehicleType: req.VehicleType,
		Gender:      req.Gender,
	}, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

type createOrderRequest struct {
	ClientID      string        `json:"client_id"`
	DriverID      string        `json:"driver_id"`
	ProposedPrice float64       `json:"proposed_price"`
	Pickup        *models.Coord `json:"pickup,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.negotiation.CreateOrder(r.Context(), req.ClientID, req.DriverID, req.ProposedPrice, req.Pickup)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.negotiation.Order(r.Context(), mux.Vars(r)["order_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type driverResponseRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleDriverAccept(w http.ResponseWriter, r *http.Request) {
	var req driverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.negotiation.DriverAccept(r.Context(), mux.Vars(r)["order_id"], req.DriverID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverReject(w http.ResponseWriter, r *http.Request) {
	var req driverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.negotiation.DriverReject(r.Context(), mux.Vars(r)["order_id"], req.DriverID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBeginCounter(w http.ResponseWriter, r *http.Request) {
	var req driverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.negotiation.BeginCounter(r.Context(), mux.Vars(r)["order_id"], req.DriverID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type counterReplyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCounterReply(w http.ResponseWriter, r *http.Request) {
	var req counterReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.negotiation.SubmitCounterReply(r.Context(), mux.Vars(r)["driver_id"], req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type clientCounterRequest struct {
	ClientID     string  `json:"client_id"`
	CounterPrice float64 `json:"counter_price"`
}

func (s *Server) handleAcceptCounter(w http.ResponseWriter, r *http.Request) {
	var req clientCounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.negotiation.ClientAcceptCounter(r.Context(), mux.Vars(r)["order_id"], req.ClientID, req.CounterPrice); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRejectCounter(w http.ResponseWriter, r *http.Request) {
	var req clientCounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.negotiation.ClientRejectCounter(r.Context(), mux.Vars(r)["order_id"], req.ClientID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.ws.Add(handle, conn)
}

// writeError maps engine errors onto HTTP statuses. Every taxonomy error is
// recoverable at this boundary: the record is unchanged, the caller can retry.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, negotiation.ErrNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, negotiation.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, negotiation.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, negotiation.ErrInvalidCandidate):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, negotiation.ErrMalformedInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("internal error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
