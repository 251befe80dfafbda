// Package api serves the HTTP interface: room status and control, event
// history, a websocket of live events, Prometheus metrics and the /debug/
// admin pages.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/rania-fds/fds/internal/domain"
	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/httputil"
	"github.com/rania-fds/fds/internal/metrics"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/room"
	"github.com/rania-fds/fds/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 1000

	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

// Controller runs commands and reports rooms. *domain.Set implements it.
type Controller interface {
	Dispatch(ctx context.Context, cmd events.Command) (events.Reply, error)
	Rooms() []domain.RoomStatus
}

// History is the event history. *store.Store implements it.
type History interface {
	RecentEvents(ctx context.Context, limit int) ([]events.Event, error)
	Transitions(ctx context.Context, domainID, roomID, limit int) ([]store.Transition, error)
}

// Options configures a Server. Everything but Controller is optional.
type Options struct {
	Controller Controller
	History    History
	Hub        *events.Hub
	Metrics    *metrics.Metrics
	Log        *monitoring.Logger
	// Debug is called with the /debug/ handler to add admin pages.
	Debug func(*tsweb.DebugHandler) error
}

// Server is the HTTP API.
type Server struct {
	ctrl     Controller
	history  History
	hub      *events.Hub
	metrics  *metrics.Metrics
	log      *monitoring.Logger
	debug    func(*tsweb.DebugHandler) error
	upgrader websocket.Upgrader
}

// NewServer returns a server over opts.
func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = monitoring.Discard()
	}
	return &Server{
		ctrl:    opts.Controller,
		history: opts.History,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		log:     opts.Log.With("api"),
		debug:   opts.Debug,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the router.
func (s *Server) Handler() (http.Handler, error) {
	r := mux.NewRouter()
	r.Use(httputil.LoggingMiddleware(s.log))

	route := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.metrics.Middleware(path, h)).Methods(methods...)
	}
	route("/api/rooms", s.listRooms, http.MethodGet)
	route("/api/rooms/{id:[0-9]+}/{action:pause|resume}", s.controlRoom, http.MethodPost)
	route("/api/rooms/{id:[0-9]+}/transitions", s.listTransitions, http.MethodGet)
	route("/api/events", s.listEvents, http.MethodGet)
	route("/api/ws", s.streamEvents, http.MethodGet)
	route("/healthz", s.health, http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	debugMux := http.NewServeMux()
	debug := tsweb.Debugger(debugMux)
	if s.ctrl != nil {
		debug.Handle("rooms", "Room state and counters", http.HandlerFunc(s.listRooms))
	}
	if s.debug != nil {
		if err := s.debug(debug); err != nil {
			return nil, err
		}
	}
	r.PathPrefix("/debug/").Handler(debugMux)
	return r, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		httputil.ServiceUnavailable(w, "no domains running")
		return
	}
	rooms := s.ctrl.Rooms()
	if rooms == nil {
		rooms = []domain.RoomStatus{}
	}
	httputil.WriteJSONOK(w, rooms)
}

// domainParam reads ?dom=, defaulting to domain 0.
func domainParam(r *http.Request) (int, error) {
	return httputil.QueryInt(r, "dom", 0, 0)
}

func (s *Server) controlRoom(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		httputil.ServiceUnavailable(w, "no domains running")
		return
	}
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		httputil.BadRequest(w, "invalid room id")
		return
	}
	dom, err := domainParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	reply, err := s.ctrl.Dispatch(r.Context(), events.NewRoomCommand(dom, vars["action"], id))
	httputil.WriteJSON(w, statusFor(err), reply)
}

// statusFor maps a command error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrUnknownRoom), errors.Is(err, domain.ErrUnknownDomain):
		return http.StatusNotFound
	case errors.Is(err, room.ErrNotStarted), errors.Is(err, room.ErrAlreadyPaused), errors.Is(err, room.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, events.ErrBadPayload), errors.Is(err, domain.ErrUnknownCommand):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.ServiceUnavailable(w, "event history is disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultLimit, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	evs, err := s.history.RecentEvents(r.Context(), limit)
	if err != nil {
		s.log.Errorf("recent events: %v", err)
		httputil.InternalServerError(w, "failed to read events")
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	httputil.WriteJSONOK(w, evs)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.ServiceUnavailable(w, "event history is disabled")
		return
	}
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.BadRequest(w, "invalid room id")
		return
	}
	dom, err := domainParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultLimit, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ts, err := s.history.Transitions(r.Context(), dom, id, limit)
	if err != nil {
		s.log.Errorf("transitions: %v", err)
		httputil.InternalServerError(w, "failed to read transitions")
		return
	}
	if ts == nil {
		ts = []store.Transition{}
	}
	httputil.WriteJSONOK(w, ts)
}

// streamEvents upgrades to a websocket and writes every hub event as a
// JSON text message until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		httputil.ServiceUnavailable(w, "event stream is disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debugf("websocket close: %v", err)
		}
	}()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// The read side only handles control frames and notices the client
	// going away.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debugf("websocket write: %v", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
