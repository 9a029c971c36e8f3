// Package ws exposes the conversation engine over a websocket, mainly
// for local development and integration tests that should not depend
// on Telegram.
package ws

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pixflow/internal/flow"
)

const (
	chatWSWriteWait = 10 * time.Second
	chatWSPongWait  = 60 * time.Second
	chatWSPingEvery = (chatWSPongWait * 9) / 10
)

var chatWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Conversation is the slice of the engine the handler drives. Events
// are delivered synchronously from the read loop so one user's frames
// reach the conversation in arrival order; implementations must not
// block on slow work (flow.Sequencer queues it per user).
type Conversation interface {
	OnCommand(ctx context.Context, userID, command string, emit flow.EmitFunc)
	OnText(ctx context.Context, userID, text string, emit flow.EmitFunc)
	OnImage(ctx context.Context, userID string, image []byte, emit flow.EmitFunc)
	OnProviderChoice(ctx context.Context, userID, choice string, emit flow.EmitFunc)
}

type chatWSInbound struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Text    string `json:"text,omitempty"`
	// Image is base64-encoded.
	Image  string `json:"image,omitempty"`
	Choice string `json:"choice,omitempty"`
}

type chatWSOutbound struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Image   string   `json:"image,omitempty"`
	Caption string   `json:"caption,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message,omitempty"`
}

type Handler struct {
	conv Conversation
}

func NewHandler(conv Conversation) *Handler {
	return &Handler{conv: conv}
}

// HandleChatWS upgrades the connection and runs one conversation over
// it. The user_id query parameter identifies the session.
func (h *Handler) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := chatWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(chatWSPongWait)); err != nil {
		log.Printf("chat ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(chatWSPongWait))
	})

	writeCh := make(chan chatWSOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(chatWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(chatWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(chatWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	emit := func(e flow.Effect) {
		switch e.Kind {
		case flow.EffectText:
			pushChatWS(writeCh, chatWSOutbound{Type: "text", Text: e.Text})
		case flow.EffectImage:
			pushChatWS(writeCh, chatWSOutbound{
				Type:    "image",
				Image:   base64.StdEncoding.EncodeToString(e.Image),
				Caption: e.Caption,
			})
		case flow.EffectChoices:
			pushChatWS(writeCh, chatWSOutbound{Type: "choices", Text: e.Text, Choices: e.Choices})
		}
	}

	pushChatWS(writeCh, chatWSOutbound{Type: "connected"})

	for {
		var in chatWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		msgType := strings.ToLower(strings.TrimSpace(in.Type))
		switch msgType {
		case "ping":
			pushChatWS(writeCh, chatWSOutbound{Type: "pong"})
		case "command":
			h.conv.OnCommand(ctx, userID, strings.TrimSpace(in.Command), emit)
		case "text":
			h.conv.OnText(ctx, userID, in.Text, emit)
		case "image":
			data, decErr := base64.StdEncoding.DecodeString(in.Image)
			if decErr != nil {
				pushChatWS(writeCh, chatWSOutbound{
					Type:    "error",
					Code:    "invalid_argument",
					Message: "image must be base64",
				})
				continue
			}
			h.conv.OnImage(ctx, userID, data, emit)
		case "choice":
			h.conv.OnProviderChoice(ctx, userID, strings.TrimSpace(in.Choice), emit)
		default:
			pushChatWS(writeCh, chatWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "unsupported type: " + msgType,
			})
		}
	}
}

// pushChatWS never blocks the caller; under backpressure it drops the
// oldest queued message to make room.
func pushChatWS(writeCh chan chatWSOutbound, out chatWSOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
