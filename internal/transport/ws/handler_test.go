package ws

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pixflow/internal/flow"
)

type fakeConversation struct {
	mu        sync.Mutex
	commands  []string
	texts     []string
	images    [][]byte
	choices   []string
	responses []flow.Effect
}

func (f *fakeConversation) reply(emit flow.EmitFunc) {
	f.mu.Lock()
	responses := f.responses
	f.mu.Unlock()
	for _, e := range responses {
		emit(e)
	}
}

func (f *fakeConversation) OnCommand(_ context.Context, _ string, command string, emit flow.EmitFunc) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	f.reply(emit)
}

func (f *fakeConversation) OnText(_ context.Context, _ string, text string, emit flow.EmitFunc) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	f.reply(emit)
}

func (f *fakeConversation) OnImage(_ context.Context, _ string, image []byte, emit flow.EmitFunc) {
	f.mu.Lock()
	f.images = append(f.images, image)
	f.mu.Unlock()
	f.reply(emit)
}

func (f *fakeConversation) OnProviderChoice(_ context.Context, _ string, choice string, emit flow.EmitFunc) {
	f.mu.Lock()
	f.choices = append(f.choices, choice)
	f.mu.Unlock()
	f.reply(emit)
}

func dialChatWS(t *testing.T, conv Conversation, query string) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(NewMux(NewHandler(conv)))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readOutbound(t *testing.T, conn *websocket.Conn) chatWSOutbound {
	t.Helper()
	var out chatWSOutbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestChatWSRequiresUserID(t *testing.T) {
	srv := httptest.NewServer(NewMux(NewHandler(&fakeConversation{})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/chat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatWSCommandRoundTrip(t *testing.T) {
	conv := &fakeConversation{responses: []flow.Effect{
		{Kind: flow.EffectText, Text: "Commands: ..."},
	}}
	conn, done := dialChatWS(t, conv, "?user_id=u1")
	defer done()

	if out := readOutbound(t, conn); out.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", out.Type)
	}

	if err := conn.WriteJSON(chatWSInbound{Type: "command", Command: "/help"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := readOutbound(t, conn)
	if out.Type != "text" || out.Text != "Commands: ..." {
		t.Errorf("got %+v", out)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.commands) != 1 || conv.commands[0] != "/help" {
		t.Errorf("commands = %v", conv.commands)
	}
}

func TestChatWSImageDecoding(t *testing.T) {
	conv := &fakeConversation{responses: []flow.Effect{
		{Kind: flow.EffectImage, Image: []byte("result"), Caption: "done"},
	}}
	conn, done := dialChatWS(t, conv, "?user_id=u1")
	defer done()
	readOutbound(t, conn) // connected

	payload := base64.StdEncoding.EncodeToString([]byte("photo-bytes"))
	if err := conn.WriteJSON(chatWSInbound{Type: "image", Image: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := readOutbound(t, conn)
	if out.Type != "image" || out.Caption != "done" {
		t.Fatalf("got %+v", out)
	}
	decoded, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil || string(decoded) != "result" {
		t.Errorf("image payload = %q (%v)", decoded, err)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.images) != 1 || string(conv.images[0]) != "photo-bytes" {
		t.Errorf("images = %q", conv.images)
	}
}

func TestChatWSRejectsBadBase64(t *testing.T) {
	conv := &fakeConversation{}
	conn, done := dialChatWS(t, conv, "?user_id=u1")
	defer done()
	readOutbound(t, conn) // connected

	if err := conn.WriteJSON(chatWSInbound{Type: "image", Image: "not-base64!!!"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := readOutbound(t, conn)
	if out.Type != "error" || out.Code != "invalid_argument" {
		t.Errorf("got %+v", out)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.images) != 0 {
		t.Error("bad payload must not reach the engine")
	}
}

func TestChatWSPreservesArrivalOrder(t *testing.T) {
	conv := &fakeConversation{responses: []flow.Effect{
		{Kind: flow.EffectText, Text: "ack"},
	}}
	conn, done := dialChatWS(t, conv, "?user_id=u1")
	defer done()
	readOutbound(t, conn) // connected

	const n = 40
	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = fmt.Sprintf("%03d", i)
		if err := conn.WriteJSON(chatWSInbound{Type: "text", Text: want[i]}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	// acks are best-effort (the bounded outbound queue drops the oldest
	// under backpressure), so wait on the engine-side recording instead
	deadline := time.Now().Add(5 * time.Second)
	for {
		conv.mu.Lock()
		got := len(conv.texts)
		conv.mu.Unlock()
		if got >= n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation saw %d events, want %d", got, n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.texts) != n {
		t.Fatalf("conversation saw %d events, want %d", len(conv.texts), n)
	}
	for i := range want {
		if conv.texts[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (order broken: %v...)", i, conv.texts[i], want[i], conv.texts[:i+1])
		}
	}
}

func TestChatWSUnsupportedType(t *testing.T) {
	conn, done := dialChatWS(t, &fakeConversation{}, "?user_id=u1")
	defer done()
	readOutbound(t, conn) // connected

	if err := conn.WriteJSON(chatWSInbound{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := readOutbound(t, conn)
	if out.Type != "error" || !strings.Contains(out.Message, "dance") {
		t.Errorf("got %+v", out)
	}
}
