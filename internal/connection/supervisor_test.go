package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ottoengine/ottoengine/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu            sync.Mutex
	stateChanged  []*state.StateChangedEvent
	genericEvents []*state.HassEvent
	snapshots     [][]state.EntityState
	registries    [][]state.ServiceRegistration
}

func (d *recordingDispatcher) DispatchStateChanged(ev *state.StateChangedEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateChanged = append(d.stateChanged, ev)
}

func (d *recordingDispatcher) DispatchEvent(ev *state.HassEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.genericEvents = append(d.genericEvents, ev)
}

func (d *recordingDispatcher) DispatchEntitySnapshot(entities []state.EntityState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots = append(d.snapshots, entities)
}

func (d *recordingDispatcher) DispatchServiceRegistry(registrations []state.ServiceRegistration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registries = append(d.registries, registrations)
}

func (d *recordingDispatcher) snapshot() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stateChanged), len(d.genericEvents)
}

// fakeAssistant is a minimal stand-in for the remote assistant's websocket
// endpoint: upgrades the connection, sends auth_required, answers an auth
// frame with auth_ok and every other received frame with a result, and can
// push an event frame on demand.
type fakeAssistant struct {
	upgrader websocket.Upgrader
	pushCh   chan []byte
	received chan map[string]any
}

func newFakeAssistant() *fakeAssistant {
	return &fakeAssistant{
		pushCh:   make(chan []byte, 8),
		received: make(chan map[string]any, 8),
	}
}

func (f *fakeAssistant) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "auth_required"}); err != nil {
		return
	}

	go func() {
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.received <- msg
			if msg["type"] == TypeAuth {
				conn.WriteJSON(map[string]any{"type": TypeAuthOK})
			} else {
				conn.WriteJSON(map[string]any{"id": msg["id"], "type": TypeResult, "success": true})
			}
		}
	}()

	for raw := range f.pushCh {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

func startFakeAssistant(t *testing.T) (*fakeAssistant, string, int) {
	t.Helper()
	f := newFakeAssistant()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)

	u := strings.TrimPrefix(srv.URL, "http://")
	hostPort := strings.SplitN(u, ":", 2)
	port, err := strconv.Atoi(hostPort[1])
	require.NoError(t, err)
	return f, hostPort[0], port
}

func TestSupervisor_AuthenticatesAndSubscribes(t *testing.T) {
	f, host, port := startFakeAssistant(t)
	dispatcher := &recordingDispatcher{}
	sup := New(Config{Host: host, Port: port, Token: "tok"}, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	msg := <-f.received
	assert.Equal(t, TypeAuth, msg["type"])
	assert.Equal(t, "tok", msg["access_token"])

	msg = <-f.received
	assert.Equal(t, TypeSubscribeEvents, msg["type"])
}

func TestSupervisor_DispatchesStateChangedEvent(t *testing.T) {
	f, host, port := startFakeAssistant(t)
	dispatcher := &recordingDispatcher{}
	sup := New(Config{Host: host, Port: port, Token: "tok"}, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	<-f.received // auth
	<-f.received // subscribe

	eventFrame := map[string]any{
		"type": TypeEvent,
		"event": map[string]any{
			"event_type": state.StateChangedEventType,
			"time_fired": time.Now().UTC().Format(time.RFC3339),
			"data": map[string]any{
				"entity_id": "light.kitchen",
				"old_state": map[string]any{"entity_id": "light.kitchen", "state": "off"},
				"new_state": map[string]any{"entity_id": "light.kitchen", "state": "on"},
			},
		},
	}
	raw, err := json.Marshal(eventFrame)
	require.NoError(t, err)
	f.pushCh <- raw

	require.Eventually(t, func() bool {
		sc, _ := dispatcher.snapshot()
		return sc == 1
	}, 2*time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.stateChanged, 1)
	assert.Equal(t, "light.kitchen", dispatcher.stateChanged[0].EntityID)
	assert.Equal(t, "on", dispatcher.stateChanged[0].NewState.State)
}

func TestSupervisor_DispatchesEntitySnapshotFromResultFrame(t *testing.T) {
	f, host, port := startFakeAssistant(t)
	dispatcher := &recordingDispatcher{}
	sup := New(Config{Host: host, Port: port, Token: "tok"}, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	<-f.received // auth
	<-f.received // subscribe

	resultFrame := map[string]any{
		"id":      1,
		"type":    TypeResult,
		"success": true,
		"result": []map[string]any{
			{"entity_id": "light.kitchen", "state": "on", "attributes": map[string]any{}},
		},
	}
	raw, err := json.Marshal(resultFrame)
	require.NoError(t, err)
	f.pushCh <- raw

	require.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.snapshots) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.snapshots[0], 1)
	assert.Equal(t, "light.kitchen", dispatcher.snapshots[0][0].EntityID)
}

func TestSupervisor_CallServiceSendsFrameWithMonotonicID(t *testing.T) {
	f, host, port := startFakeAssistant(t)
	dispatcher := &recordingDispatcher{}
	sup := New(Config{Host: host, Port: port, Token: "tok"}, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	<-f.received        // auth
	sub := <-f.received // subscribe

	require.Eventually(t, func() bool {
		return sup.CallService(context.Background(), state.ServiceCall{
			Domain: "light", Service: "turn_on", ServiceData: map[string]any{"entity_id": "light.kitchen"},
		}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	msg := <-f.received
	assert.Equal(t, TypeCallService, msg["type"])
	assert.Greater(t, msg["id"], sub["id"])
	assert.Equal(t, "light", msg["domain"])
	assert.Equal(t, "turn_on", msg["service"])
}
