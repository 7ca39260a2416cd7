package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agriconnect/internal/presence"
	"agriconnect/internal/signaling"
	"agriconnect/pkg/auth"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
	"agriconnect/pkg/realtime"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const testSecret = "realtime-secret-0123456789"

type testEnv struct {
	server   *httptest.Server
	hub      *Hub
	relay    *signaling.Relay
	presence *presence.Registry
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.Discard()
	verifier := auth.NewVerifier(testSecret)
	registry := presence.NewRegistry()
	hub := NewHub(Options{
		SendBuffer:     16,
		MaxMessageSize: 64 * 1024,
		PongWait:       5 * time.Second,
		WriteTimeout:   time.Second,
		SignalRate:     1000,
		SignalBurst:    1000,
	}, verifier, registry, log)
	relay := signaling.NewRelay(hub, log)
	hub.SetHandler(relay)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
	})

	return &testEnv{server: server, hub: hub, relay: relay, presence: registry, verifier: verifier}
}

func (e *testEnv) dial(t *testing.T, userID string, role model.Role) *websocket.Conn {
	t.Helper()

	token, err := e.verifier.Issue(userID, role, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	eventually(t, func() bool {
		_, ok := e.presence.Lookup(userID)
		return ok
	})
	return ws
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func send(t *testing.T, ws *websocket.Conn, frameType string, payload any) {
	t.Helper()
	frame, err := realtime.Encode(frameType, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func receive(t *testing.T, ws *websocket.Conn) (string, map[string]json.RawMessage) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	env, err := realtime.DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env.Type, data
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	base := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("missing token: err=%v resp=%v, want 403", err, resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=garbage", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: err=%v resp=%v, want 401", err, resp)
	}
}

func TestHub_RelaysOfferAndAnswer(t *testing.T) {
	env := newTestEnv(t)
	farmerWS := env.dial(t, "farmer-1", model.RoleFarmer)
	expertWS := env.dial(t, "expert-1", model.RoleExpert)

	send(t, farmerWS, realtime.TypeJoinCall, realtime.JoinCall{AppointmentID: "a1", Role: model.RoleFarmer})
	send(t, expertWS, realtime.TypeJoinCall, realtime.JoinCall{AppointmentID: "a1", Role: model.RoleExpert})
	eventually(t, func() bool { return env.relay.Sessions() == 2 })

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	send(t, farmerWS, realtime.TypeOffer, realtime.Offer{AppointmentID: "a1", SDP: offer})

	typ, data := receive(t, expertWS)
	if typ != realtime.TypeOffer || string(data["sdp"]) != string(offer) || string(data["from"]) != `"farmer"` {
		t.Fatalf("expert received %s %v", typ, data)
	}

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0\r\n"}`)
	send(t, expertWS, realtime.TypeAnswer, realtime.Answer{AppointmentID: "a1", SDP: answer})

	typ, data = receive(t, farmerWS)
	if typ != realtime.TypeAnswer || string(data["sdp"]) != string(answer) || string(data["from"]) != `"expert"` {
		t.Fatalf("farmer received %s %v", typ, data)
	}
}

func TestHub_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	farmerWS := env.dial(t, "farmer-1", model.RoleFarmer)
	expertWS := env.dial(t, "expert-1", model.RoleExpert)

	if err := farmerWS.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	send(t, farmerWS, realtime.TypeJoinCall, realtime.JoinCall{AppointmentID: "a1", Role: model.RoleFarmer})
	send(t, expertWS, realtime.TypeJoinCall, realtime.JoinCall{AppointmentID: "a1", Role: model.RoleExpert})
	eventually(t, func() bool { return env.relay.Sessions() == 2 })

	send(t, farmerWS, realtime.TypeIceCandidate, realtime.IceCandidate{AppointmentID: "a1", Candidate: json.RawMessage(`{"candidate":"c1"}`)})
	if typ, _ := receive(t, expertWS); typ != realtime.TypeIceCandidate {
		t.Errorf("type = %q, want ice_candidate", typ)
	}
}

func TestHub_DisconnectClearsPresenceAndSessions(t *testing.T) {
	env := newTestEnv(t)
	farmerWS := env.dial(t, "farmer-1", model.RoleFarmer)

	send(t, farmerWS, realtime.TypeJoinCall, realtime.JoinCall{AppointmentID: "a1", Role: model.RoleFarmer})
	eventually(t, func() bool { return env.relay.Sessions() == 1 })

	_ = farmerWS.Close()

	eventually(t, func() bool {
		_, online := env.presence.Lookup("farmer-1")
		return !online && env.relay.Sessions() == 0 && env.hub.Connections() == 0
	})
}

func TestHub_ReconnectKeepsNewestConnection(t *testing.T) {
	env := newTestEnv(t)
	first := env.dial(t, "expert-1", model.RoleExpert)
	firstConn, _ := env.presence.Lookup("expert-1")

	second := env.dial(t, "expert-1", model.RoleExpert)
	eventually(t, func() bool {
		connID, _ := env.presence.Lookup("expert-1")
		return connID != firstConn
	})

	_ = first.Close()
	eventually(t, func() bool { return env.hub.Connections() == 1 })

	notifier := NewNotifier(env.hub, logger.Discard())
	notifier.AppointmentRequested("expert-1", "a1", "farmer-1")

	typ, data := receive(t, second)
	if typ != realtime.TypeAppointmentRequested || string(data["appointmentId"]) != `"a1"` {
		t.Errorf("received %s %v", typ, data)
	}
}

func TestNotifier_Responded(t *testing.T) {
	env := newTestEnv(t)
	farmerWS := env.dial(t, "farmer-1", model.RoleFarmer)
	notifier := NewNotifier(env.hub, logger.Discard())

	notifier.AppointmentResponded("farmer-1", "a1", model.StatusAccepted)
	notifier.AppointmentResponded("farmer-1", "a2", model.StatusDeclined)

	if typ, data := receive(t, farmerWS); typ != realtime.TypeAppointmentAccepted || string(data["appointmentId"]) != `"a1"` {
		t.Errorf("first = %s %v", typ, data)
	}
	if typ, data := receive(t, farmerWS); typ != realtime.TypeAppointmentDeclined || string(data["appointmentId"]) != `"a2"` {
		t.Errorf("second = %s %v", typ, data)
	}

	// Offline users are skipped without error.
	notifier.AppointmentRequested("nobody", "a3", "farmer-1")
}

func TestHub_SendToUnknownConnection(t *testing.T) {
	env := newTestEnv(t)
	if env.hub.Send("missing", []byte(`{}`)) {
		t.Errorf("Send to an unknown connection reported success")
	}
}
