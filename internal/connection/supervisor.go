// Package connection supervises the websocket link to the remote
// home-automation assistant (§4.6, §6.1): dial, authenticate, read
// frames, dispatch them to the engine, and restart on loss.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/ottoengine/ottoengine/internal/state"
	"github.com/sony/gobreaker/v2"
)

// Inbound frame type discriminators (§6.1).
const (
	TypeAuthOK         = "auth_ok"
	TypeAuthInvalid    = "auth_invalid"
	TypeResult         = "result"
	TypePong           = "pong"
	TypeEvent          = "event"
)

// Outbound frame type discriminators.
const (
	TypeAuth            = "auth"
	TypePing            = "ping"
	TypeSubscribeEvents = "subscribe_events"
	TypeGetStates       = "get_states"
	TypeGetServices     = "get_services"
	TypeCallService     = "call_service"
)

// Dispatcher receives decoded inbound frames off the read loop.
type Dispatcher interface {
	DispatchStateChanged(ev *state.StateChangedEvent)
	DispatchEvent(ev *state.HassEvent)
	DispatchEntitySnapshot(entities []state.EntityState)
	DispatchServiceRegistry(registrations []state.ServiceRegistration)
}

// Config configures the supervisor's remote endpoint and breaker.
type Config struct {
	Host  string
	Port  int
	Token string
	TLS   bool

	// RedialBackoff is the base delay between reconnect attempts once the
	// circuit breaker permits a redial.
	RedialBackoff time.Duration
}

// Supervisor owns the websocket connection's lifecycle: dial, auth,
// read loop, and automatic redial guarded by a circuit breaker so a
// persistently unreachable remote backs off instead of hot-looping.
type Supervisor struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[any]

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   int64
	authDone bool
}

// New creates a Supervisor wired to dispatcher for decoded frames.
func New(cfg Config, dispatcher Dispatcher, logger *slog.Logger) *Supervisor {
	if cfg.RedialBackoff <= 0 {
		cfg.RedialBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{cfg: cfg, dispatcher: dispatcher, logger: logger}

	settings := gobreaker.Settings{
		Name:        "hass-connection",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("connection circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}
	s.breaker = gobreaker.NewCircuitBreaker[any](settings)

	return s
}

// Run dials, authenticates and reads frames until ctx is cancelled,
// reconnecting through the circuit breaker whenever the link drops.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, err := s.breaker.Execute(func() (any, error) {
			return nil, s.runOnce(ctx)
		})
		if err != nil && err != gobreaker.ErrOpenState {
			s.logger.Error("connection attempt failed", "error", err)
		}
		if err == gobreaker.ErrOpenState {
			s.logger.Warn("connection circuit open, backing off")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RedialBackoff):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return &ottoerr.ConnectionLostError{Cause: err}
	}
	defer s.close()

	if err := s.authenticate(); err != nil {
		return &ottoerr.ConnectionLostError{Cause: err}
	}

	if err := s.SubscribeEvents(""); err != nil {
		return &ottoerr.ConnectionLostError{Cause: err}
	}

	return s.readLoop(ctx)
}

func (s *Supervisor) connect(ctx context.Context) error {
	scheme := "ws"
	if s.cfg.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port), Path: "/api/websocket"}

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	s.mu.Lock()
	s.conn = conn
	s.nextID = 0
	s.authDone = false
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Supervisor) authenticate() error {
	return s.send(map[string]any{"type": TypeAuth, "access_token": s.cfg.Token})
}

func (s *Supervisor) nextReqID() int64 {
	return atomic.AddInt64(&s.nextID, 1)
}

func (s *Supervisor) send(payload map[string]any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &ottoerr.ConnectionLostError{Cause: fmt.Errorf("not connected")}
	}
	return conn.WriteJSON(payload)
}

// SubscribeEvents subscribes to events of eventType, or all events if empty.
func (s *Supervisor) SubscribeEvents(eventType string) error {
	payload := map[string]any{"id": s.nextReqID(), "type": TypeSubscribeEvents}
	if eventType != "" {
		payload["event_type"] = eventType
	}
	return s.send(payload)
}

// GetStates requests a snapshot of all remote entity state.
func (s *Supervisor) GetStates() error {
	return s.send(map[string]any{"id": s.nextReqID(), "type": TypeGetStates})
}

// GetServices requests the remote's registered service catalog.
func (s *Supervisor) GetServices() error {
	return s.send(map[string]any{"id": s.nextReqID(), "type": TypeGetServices})
}

// Ping sends a keepalive frame.
func (s *Supervisor) Ping() error {
	return s.send(map[string]any{"id": s.nextReqID(), "type": TypePing})
}

// CallService implements action.ServiceCaller: it issues a call_service
// frame and reports only whether the frame was accepted for sending.
func (s *Supervisor) CallService(ctx context.Context, call state.ServiceCall) error {
	return s.send(map[string]any{
		"id":           s.nextReqID(),
		"type":         TypeCallService,
		"domain":       call.Domain,
		"service":      call.Service,
		"service_data": call.ServiceData,
	})
}

type inboundFrame struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

type inboundEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
}

type inboundStateChangedData struct {
	EntityID string             `json:"entity_id"`
	OldState *inboundEntityState `json:"old_state"`
	NewState *inboundEntityState `json:"new_state"`
}

type inboundEntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

func (s *Supervisor) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return &ottoerr.ConnectionLostError{Cause: fmt.Errorf("connection closed")}
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return &ottoerr.ConnectionLostError{Cause: err}
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case TypeAuthOK:
			s.mu.Lock()
			s.authDone = true
			s.mu.Unlock()
		case TypeAuthInvalid:
			return &ottoerr.ConnectionLostError{Cause: fmt.Errorf("authentication rejected")}
		case TypeResult:
			s.handleResult(raw)
		case TypePong:
			// Acknowledged; no action required.
		case TypeEvent:
			s.handleEvent(frame.Event)
		default:
			s.logger.Debug("ignoring unrecognized frame type", "type", frame.Type)
		}
	}
}

type inboundResultFrame struct {
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
}

type inboundServiceField struct {
	Description string `json:"description"`
	Example     any    `json:"example"`
}

type inboundServiceDetail struct {
	Name        string                          `json:"name"`
	Description string                          `json:"description"`
	Fields      map[string]inboundServiceField `json:"fields"`
}

// handleResult decodes a `result` frame per §6.1: a list payload is an
// initial entity snapshot, a mapping keyed by domain is the service
// registry. A false success or an unrecognized payload shape is logged
// and skipped.
func (s *Supervisor) handleResult(raw json.RawMessage) {
	var frame inboundResultFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logger.Warn("dropping malformed result frame", "error", err)
		return
	}
	if frame.Success != nil && !*frame.Success {
		s.logger.Warn("remote reported unsuccessful result")
		return
	}
	if len(frame.Result) == 0 {
		return
	}

	var entities []inboundEntityState
	if err := json.Unmarshal(frame.Result, &entities); err == nil {
		snapshot := make([]state.EntityState, 0, len(entities))
		for _, e := range entities {
			snapshot = append(snapshot, *toEntityState(&e))
		}
		s.dispatcher.DispatchEntitySnapshot(snapshot)
		return
	}

	var byDomain map[string]map[string]inboundServiceDetail
	if err := json.Unmarshal(frame.Result, &byDomain); err == nil {
		registrations := make([]state.ServiceRegistration, 0, len(byDomain))
		for domain, services := range byDomain {
			reg := state.ServiceRegistration{Domain: domain}
			for name, detail := range services {
				svc := state.Service{Name: name, Description: detail.Description}
				for fieldName, field := range detail.Fields {
					svc.Fields = append(svc.Fields, state.ServiceField{
						Name: fieldName, Description: field.Description,
						Example: fmt.Sprint(field.Example),
					})
				}
				reg.Services = append(reg.Services, svc)
			}
			registrations = append(registrations, reg)
		}
		s.dispatcher.DispatchServiceRegistry(registrations)
		return
	}

	s.logger.Debug("ignoring result frame of unrecognized shape")
}

func (s *Supervisor) handleEvent(raw json.RawMessage) {
	var ev inboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warn("dropping malformed event frame", "error", err)
		return
	}

	if ev.EventType == state.StateChangedEventType {
		var data inboundStateChangedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			s.logger.Warn("dropping malformed state_changed event", "error", err)
			return
		}
		sce := &state.StateChangedEvent{
			HassEvent: state.HassEvent{EventType: ev.EventType, TimeFired: ev.TimeFired},
			EntityID:  data.EntityID,
			OldState:  toEntityState(data.OldState),
			NewState:  toEntityState(data.NewState),
		}
		s.dispatcher.DispatchStateChanged(sce)
		return
	}

	var data map[string]any
	_ = json.Unmarshal(ev.Data, &data)
	s.dispatcher.DispatchEvent(&state.HassEvent{EventType: ev.EventType, Data: data, TimeFired: ev.TimeFired})
}

func toEntityState(in *inboundEntityState) *state.EntityState {
	if in == nil {
		return nil
	}
	return &state.EntityState{
		EntityID:    in.EntityID,
		State:       in.State,
		Attributes:  in.Attributes,
		LastChanged: in.LastChanged,
	}
}
