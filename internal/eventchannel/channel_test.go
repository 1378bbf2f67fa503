package eventchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/soundbooth/djcast/internal/proto"
)

// startServer runs a websocket server that feeds every inbound packet
// to handle. handle may write replies or push events on the conn.
func startServer(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		for {
			var pkt proto.Packet
			if err := wsjson.Read(ctx, conn, &pkt); err != nil {
				return
			}
			if !handle(ctx, conn, pkt) {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	return strings.Replace(ts.URL, "http", "ws", 1)
}

func dialTest(t *testing.T, url string) *Channel {
	t.Helper()

	logger := zerolog.Nop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	ch, err := Dial(ctx, url, &logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestCallReceivesReply(t *testing.T) {
	url := startServer(t, func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool {
		if pkt.Event != "room:join" {
			t.Errorf("unexpected event %q", pkt.Event)
			return false
		}
		reply := proto.Packet{Reply: pkt.ID, Data: json.RawMessage(`{"name": "Lounge"}`)}
		_ = wsjson.Write(ctx, conn, reply)
		return true
	})

	ch := dialTest(t, url)
	ch.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := ch.Call(ctx, "room:join", "lounge")
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	var room struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &room); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if room.Name != "Lounge" {
		t.Fatalf("unexpected reply: %s", data)
	}
}

func TestInboundEventDispatch(t *testing.T) {
	url := startServer(t, func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool {
		// Any inbound frame triggers a pushed event.
		push := proto.Packet{Event: "room:num_anonymous", Data: json.RawMessage(`7`)}
		_ = wsjson.Write(ctx, conn, push)
		return true
	})

	ch := dialTest(t, url)

	got := make(chan json.RawMessage, 1)
	ch.On("room:num_anonymous", func(data json.RawMessage) {
		got <- data
	})
	ch.Start()

	if err := ch.Emit("hello", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != "7" {
			t.Fatalf("unexpected payload: %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestCallFromInsideHandler(t *testing.T) {
	url := startServer(t, func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool {
		switch pkt.Event {
		case "poke":
			_ = wsjson.Write(ctx, conn, proto.Packet{Event: "nudge"})
		case "echo":
			_ = wsjson.Write(ctx, conn, proto.Packet{Reply: pkt.ID, Data: pkt.Data})
		}
		return true
	})

	ch := dialTest(t, url)

	result := make(chan string, 1)
	ch.On("nudge", func(json.RawMessage) {
		// Replies are routed off the dispatch path, so a synchronous
		// call made from a handler completes.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := ch.Call(ctx, "echo", "ping")
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- string(data)
	})
	ch.Start()

	if err := ch.Emit("poke", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case got := <-result:
		if got != `"ping"` {
			t.Fatalf("unexpected echo: %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call from handler never completed")
	}
}

func TestServerCloseDeliversDisconnect(t *testing.T) {
	url := startServer(t, func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool {
		return false // close after the first frame
	})

	ch := dialTest(t, url)

	disconnected := make(chan struct{})
	ch.On(proto.EventDisconnect, func(json.RawMessage) {
		close(disconnected)
	})
	ch.Start()

	if err := ch.Emit("hello", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect event never dispatched")
	}

	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done never closed")
	}

	if err := ch.Emit("hello", nil); err == nil {
		t.Fatal("emit after close should fail")
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	url := startServer(t, func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool {
		return true
	})

	ch := dialTest(t, url)
	ch.Start()
	_ = ch.Close()

	<-ch.Done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := ch.Call(ctx, "room:join", "lounge"); err == nil {
		t.Fatal("call on a closed channel should fail")
	}
}

func TestDispatchIsSerialized(t *testing.T) {
	const n = 20
	url := startServer(t, func(ctx context.Context, conn *websocket.Conn, pkt proto.Packet) bool {
		for i := 0; i < n; i++ {
			_ = wsjson.Write(ctx, conn, proto.Packet{Event: "tick", Data: json.RawMessage(`1`)})
		}
		return true
	})

	ch := dialTest(t, url)

	var inHandler, count int
	errs := make(chan string, 1)
	done := make(chan struct{})
	ch.On("tick", func(json.RawMessage) {
		inHandler++
		if inHandler != 1 {
			select {
			case errs <- "handlers ran concurrently":
			default:
			}
		}
		inHandler--
		count++
		if count == n {
			close(done)
		}
	})
	ch.Start()

	if err := ch.Emit("hello", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case <-done:
	case msg := <-errs:
		t.Fatal(msg)
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d of %d events dispatched", count, n)
	}
}
