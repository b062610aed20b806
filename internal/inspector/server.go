// Package inspector serves a node's state over HTTP: Prometheus metrics, a
// JSON status document, object reads and writes, and a websocket stream of
// engine events.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/observability/metrics"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

const maxBodySize = 1 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Source is the node state the inspector reads and writes. Implementations
// serialize access to the engine.
type Source interface {
	Status() Status
	// ReadObject returns our own object when peer is nil.
	ReadObject(name string, peer *protocol.Endpoint) (*value.Value, error)
	WriteObject(name string, v *value.Value) error
}

type Status struct {
	Hostname   string         `json:"hostname"`
	InstanceID string         `json:"instance_id"`
	Group      string         `json:"group"`
	GroupHash  string         `json:"group_hash"`
	Format     string         `json:"format"`
	Local      string         `json:"local,omitempty"`
	OwnDigest  string         `json:"own_digest"`
	Objects    []string       `json:"objects"`
	Peers      []PeerStatus   `json:"peers"`
	Active     []ActiveStatus `json:"active_messages"`
	Receipts   int            `json:"receipts"`
	Ticks      uint32         `json:"ticks"`
	Discovery  *Discovery     `json:"discovery,omitempty"`
}

type PeerStatus struct {
	Endpoint string `json:"endpoint"`
	Hostname string `json:"hostname,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Digest   string `json:"digest"`
}

type ActiveStatus struct {
	ID          uint32 `json:"id"`
	Destination string `json:"destination"`
	Type        string `json:"type"`
	Format      string `json:"format"`
	RetriesLeft uint32 `json:"retries_left"`
}

type Discovery struct {
	Running            bool   `json:"running"`
	State              string `json:"state"`
	TicksUntilNextScan uint32 `json:"ticks_until_next_scan"`
	TicksUntilCommit   uint32 `json:"ticks_until_commit"`
}

type Server struct {
	source  Source
	hub     *Hub
	metrics *metrics.Metrics
	logger  log.Log
	json    codec.Codec

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func New(source Source, hub *Hub, m *metrics.Metrics, logger log.Log) *Server {
	if hub == nil {
		hub = NewHub(0)
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		source:  source,
		hub:     hub,
		metrics: m,
		logger:  log.OrDefault(logger).With(log.String("component", "inspector")),
		json:    codec.MustNew(codec.JSON),
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler routes the inspector endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /status", s.metrics.Instrument("status", http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /objects/{name}", s.metrics.Instrument("object_get", http.HandlerFunc(s.handleGetObject)))
	mux.Handle("PUT /objects/{name}", s.metrics.Instrument("object_put", http.HandlerFunc(s.handlePutObject)))
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Inspector server failed", log.Error(err))
		}
	}()
	s.logger.Info("Inspector listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotRunning
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var peer *protocol.Endpoint
	if raw := r.URL.Query().Get("peer"); raw != "" {
		ep, err := protocol.ParseEndpoint(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		peer = &ep
	}

	v, err := s.source.ReadObject(name, peer)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	data, err := s.json.Encode(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.json.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Join(ErrInvalidBody, err))
		return
	}
	if err := s.source.WriteObject(name, v); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", log.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	// The client never sends anything; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("Event stream closed", log.Error(err))
				return
			}
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownObject), errors.Is(err, ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
