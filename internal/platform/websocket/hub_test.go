package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newClient("session:alice")
	b := newClient("session:bob")

	hub.Register(a)
	hub.Register(b)
	if hub.ClientCount() != 2 || hub.TopicCount("session:alice") != 1 {
		t.Fatalf("unexpected counts: total=%d alice=%d", hub.ClientCount(), hub.TopicCount("session:alice"))
	}

	hub.Unregister(a)
	hub.Unregister(a)
	if hub.ClientCount() != 1 || hub.TopicCount("session:alice") != 0 {
		t.Fatalf("unexpected counts after unregister: total=%d alice=%d", hub.ClientCount(), hub.TopicCount("session:alice"))
	}
	if _, ok := <-a.Send; ok {
		t.Error("expected Send to be closed")
	}
}

func TestHub_PublishOnlyReachesTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := newClient("session:alice")
	bob := newClient("session:bob")
	hub.Register(alice)
	hub.Register(bob)

	err := hub.Publish(context.Background(), Event{Type: "session.changed", Topic: "session:alice", Data: map[string]int{"patients": 3}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-alice.Send:
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != "session.changed" || got.Timestamp.IsZero() {
			t.Errorf("unexpected event %+v", got)
		}
	default:
		t.Fatal("expected alice to receive the event")
	}
	select {
	case <-bob.Send:
		t.Error("bob should not receive alice's event")
	default:
	}
}

func TestHub_PublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("t")
	hub.Register(c)

	for i := 0; i < sendBuffer+5; i++ {
		if err := hub.Publish(context.Background(), Event{Topic: "t"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(c.Send) != sendBuffer {
		t.Errorf("expected a full buffer of %d, got %d", sendBuffer, len(c.Send))
	}
}

func TestHub_ConcurrentRegisterPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("t")
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), Event{Topic: "t"})
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func newTestServer(t *testing.T, hub *Hub, topic TopicFunc, origins []string) *httptest.Server {
	t.Helper()
	e := echo.New()
	NewHandler(hub, topic, origins).RegisterRoutes(e.Group(""))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_StreamsTopicEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := func(c echo.Context) (string, error) {
		return "session:" + c.QueryParam("user"), nil
	}
	srv := newTestServer(t, hub, topic, []string{"*"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=alice"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.TopicCount("session:alice") == 1 })
	hub.Publish(context.Background(), Event{Type: "session.changed", Topic: "session:alice"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	json.Unmarshal(data, &got)
	if got.Topic != "session:alice" || got.Type != "session.changed" {
		t.Errorf("unexpected event %+v", got)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHandler_RejectsTopicError(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := func(c echo.Context) (string, error) {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no user")
	}
	srv := newTestServer(t, hub, topic, []string{"*"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestHandler_ChecksOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := func(echo.Context) (string, error) { return "t", nil }
	srv := newTestServer(t, hub, topic, []string{"https://clinic.example"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := gorillawebsocket.DefaultDialer.Dial(url, header); !errors.Is(err, gorillawebsocket.ErrBadHandshake) {
		t.Errorf("expected bad handshake for foreign origin, got %v", err)
	}

	header = http.Header{"Origin": []string{"https://clinic.example"}}
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	conn.Close()
}

func TestHandler_PlainRequestIsRejected(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, func(echo.Context) (string, error) { return "t", nil }, nil).RegisterRoutes(e.Group(""))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-upgrade request, got %d", rec.Code)
	}
	if hub.ClientCount() != 0 {
		t.Error("no client should be registered")
	}
}
