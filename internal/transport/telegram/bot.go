// Package telegram adapts the conversation engine to the Telegram Bot
// API. Each update is translated into one engine event; effects stream
// back as messages, photos, and inline keyboards.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"pixflow/internal/config"
	"pixflow/internal/flow"
)

const choiceUnique = "provider"

// Conversation is the engine surface the bot drives. Handlers run
// synchronously so one user's updates arrive in order; the
// implementation must not block on slow work (flow.Sequencer queues
// it per user).
type Conversation interface {
	OnCommand(ctx context.Context, userID, command string, emit flow.EmitFunc)
	OnText(ctx context.Context, userID, text string, emit flow.EmitFunc)
	OnImage(ctx context.Context, userID string, image []byte, emit flow.EmitFunc)
	OnProviderChoice(ctx context.Context, userID, choice string, emit flow.EmitFunc)
}

type Bot struct {
	bot    *tele.Bot
	engine Conversation
}

func New(cfg config.TelegramConfig, engine Conversation) (*Bot, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		// updates must enter the conversation in arrival order;
		// concurrent dispatch would let two photos from one user race
		Synchronous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	t := &Bot{bot: b, engine: engine}
	for _, cmd := range []string{"/start", "/help", "/inpaint", "/faceswap", "/character", "/again"} {
		cmd := cmd
		b.Handle(cmd, func(c tele.Context) error {
			t.engine.OnCommand(context.Background(), userID(c), cmd, t.emitter(c))
			return nil
		})
	}
	b.Handle(tele.OnText, t.handleText)
	b.Handle(tele.OnPhoto, t.handlePhoto)
	b.Handle(tele.OnDocument, t.handleDocument)
	b.Handle(tele.OnCallback, t.handleCallback)
	return t, nil
}

// Start begins long polling and blocks until Stop is called.
func (t *Bot) Start() {
	log.Printf("telegram bot started as @%s", t.bot.Me.Username)
	t.bot.Start()
}

func (t *Bot) Stop() {
	t.bot.Stop()
}

func (t *Bot) handleText(c tele.Context) error {
	t.engine.OnText(context.Background(), userID(c), c.Text(), t.emitter(c))
	return nil
}

func (t *Bot) handlePhoto(c tele.Context) error {
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}
	data, err := t.download(&photo.File)
	if err != nil {
		log.Printf("telegram: download photo: %v", err)
		return c.Send("I couldn't download that photo, please send it again.")
	}
	t.engine.OnImage(context.Background(), userID(c), data, t.emitter(c))
	return nil
}

// handleDocument accepts images sent as uncompressed files.
func (t *Bot) handleDocument(c tele.Context) error {
	doc := c.Message().Document
	if doc == nil || !strings.HasPrefix(doc.MIME, "image/") {
		return nil
	}
	data, err := t.download(&doc.File)
	if err != nil {
		log.Printf("telegram: download document: %v", err)
		return c.Send("I couldn't download that file, please send it again.")
	}
	t.engine.OnImage(context.Background(), userID(c), data, t.emitter(c))
	return nil
}

func (t *Bot) handleCallback(c tele.Context) error {
	defer func() {
		if err := c.Respond(&tele.CallbackResponse{}); err != nil {
			log.Printf("telegram: answer callback: %v", err)
		}
	}()

	unique, data := parseCallbackData(c.Callback().Data)
	if unique != choiceUnique {
		return nil
	}
	t.engine.OnProviderChoice(context.Background(), userID(c), data, t.emitter(c))
	return nil
}

func (t *Bot) download(f *tele.File) ([]byte, error) {
	rc, err := t.bot.File(f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// emitter renders engine effects into the chat the update came from.
func (t *Bot) emitter(c tele.Context) flow.EmitFunc {
	return func(e flow.Effect) {
		var err error
		switch e.Kind {
		case flow.EffectText:
			err = c.Send(e.Text)
		case flow.EffectImage:
			err = c.Send(&tele.Photo{
				File:    tele.FromReader(bytes.NewReader(e.Image)),
				Caption: e.Caption,
			})
		case flow.EffectChoices:
			markup := &tele.ReplyMarkup{}
			rows := make([]tele.Row, 0, len(e.Choices))
			for _, choice := range e.Choices {
				rows = append(rows, markup.Row(markup.Data(choice, choiceUnique, choice)))
			}
			markup.Inline(rows...)
			err = c.Send(e.Text, markup)
		}
		if err != nil {
			log.Printf("telegram: send effect %s: %v", e.Kind, err)
		}
	}
}

func userID(c tele.Context) string {
	return strconv.FormatInt(c.Sender().ID, 10)
}

// parseCallbackData splits telebot's "\f<unique>|<data>" callback
// payload.
func parseCallbackData(raw string) (unique, data string) {
	raw = strings.TrimPrefix(raw, "\f")
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return raw, ""
}
