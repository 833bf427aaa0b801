package trade_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/propdesk/eval-engine/internal/model"
	"github.com/propdesk/eval-engine/internal/trade"
)

func TestWSHub_DeliversPositionClosed(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is processed asynchronously by the hub loop, so keep
	// notifying until the message comes through.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				hub.PositionClosed(&model.Position{ID: "p1", Symbol: "EURUSD", Status: model.PositionClosed})
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg trade.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "position_closed" {
		t.Errorf("expected position_closed message, got %q", msg.Type)
	}
	if msg.Position == nil || msg.Position.ID != "p1" {
		t.Errorf("unexpected payload: %+v", msg.Position)
	}
}
