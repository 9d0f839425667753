// Package whatsapp adapts the whatsmeow client to the bot: it maps client
// events onto a small set of lifecycle hooks, converts inbound messages and
// sends replies through the outbound queue.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/logger"
)

// Hooks are invoked for session lifecycle events. Nil hooks are skipped.
type Hooks struct {
	// OnQR receives a pairing code to show to the operator.
	OnQR func(code string)
	// OnAuthenticated runs after a successful pairing.
	OnAuthenticated func(rec SessionRecord)
	// OnReady runs once, on the first successful connection.
	OnReady func(ctx context.Context)
	// OnMessage receives inbound text messages that are not our own.
	OnMessage func(ctx context.Context, msg commands.Message)
	// OnDisconnected receives a reason; the process keeps running.
	OnDisconnected func(reason string)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Hooks Hooks
	// DedupeTTL bounds how long message IDs are remembered; 0 means 10 minutes.
	DedupeTTL time.Duration
}

// Session translates whatsmeow events into Hooks calls.
type Session struct {
	ctx       context.Context
	hooks     Hooks
	seen      *cache.Cache
	seenTTL   time.Duration
	readyOnce sync.Once
}

// NewSession creates a Session. ctx is handed to OnReady and OnMessage.
func NewSession(ctx context.Context, opts SessionOptions) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	ttl := opts.DedupeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Session{
		ctx:     ctx,
		hooks:   opts.Hooks,
		seen:    cache.New(ttl, 2*ttl),
		seenTTL: ttl,
	}
}

// HandleEvent is registered with whatsmeow's Client.AddEventHandler.
func (s *Session) HandleEvent(evt any) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		rec := SessionRecord{
			JID:          e.ID.String(),
			Platform:     e.Platform,
			BusinessName: e.BusinessName,
			PairedAt:     time.Now().UTC(),
		}
		logger.WA.LogAttrs(s.ctx, slog.LevelInfo, "authenticated",
			slog.String("jid", rec.JID),
			slog.String("source", rec.Platform),
		)
		if s.hooks.OnAuthenticated != nil {
			s.hooks.OnAuthenticated(rec)
		}
	case *events.Connected:
		logger.WA.LogAttrs(s.ctx, slog.LevelInfo, "connected")
		s.readyOnce.Do(func() {
			if s.hooks.OnReady != nil {
				s.hooks.OnReady(s.ctx)
			}
		})
	case *events.Message:
		s.handleMessage(e)
	case *events.Disconnected:
		s.disconnected("connection lost")
	case *events.LoggedOut:
		s.disconnected(fmt.Sprintf("logged out: %v", e.Reason))
	case *events.StreamReplaced:
		s.disconnected("stream replaced by another client")
	}
}

// HandleQR consumes one item of whatsmeow's QR channel.
func (s *Session) HandleQR(item whatsmeow.QRChannelItem) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		logger.WA.LogAttrs(s.ctx, slog.LevelInfo, "qr",
			slog.Duration("timeout", item.Timeout),
		)
		if s.hooks.OnQR != nil {
			s.hooks.OnQR(item.Code)
		}
	case whatsmeow.QRChannelEventError:
		attrs := []slog.Attr{slog.String("status", "fail")}
		if item.Error != nil {
			attrs = append(attrs, slog.String("err", item.Error.Error()))
		}
		logger.WA.LogAttrs(s.ctx, slog.LevelError, "qr", attrs...)
	default:
		// success, timeout, client outdated
		logger.WA.LogAttrs(s.ctx, slog.LevelInfo, "qr", slog.String("status", item.Event))
	}
}

func (s *Session) handleMessage(e *events.Message) {
	if e.Info.IsFromMe {
		return
	}
	msg, ok := ConvertMessage(e)
	if !ok {
		return
	}
	if msg.ID != "" {
		if err := s.seen.Add(msg.ID, struct{}{}, s.seenTTL); err != nil {
			logger.WA.LogAttrs(s.ctx, slog.LevelDebug, "message.duplicate", slog.String("rid", msg.ID))
			return
		}
	}

	ctx := logger.WithMessageMeta(s.ctx, msg.ID, msg.Sender, msg.Chat)
	logger.WA.LogAttrs(ctx, slog.LevelInfo, "message.received",
		slog.String("push_name", logger.SanitizeLimit(msg.PushName, 64)),
		slog.String("payload", fmt.Sprintf("[%s] %s", msg.Sender, logger.SanitizeLimit(msg.Body, 256))),
	)
	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(ctx, msg)
	}
}

func (s *Session) disconnected(reason string) {
	logger.WA.LogAttrs(s.ctx, slog.LevelWarn, "disconnected", slog.String("reason", reason))
	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected(reason)
	}
}

// ConvertMessage extracts the text of an inbound message. ok is false for
// messages without text (media without caption, reactions, receipts).
func ConvertMessage(e *events.Message) (commands.Message, bool) {
	if e == nil || e.Message == nil {
		return commands.Message{}, false
	}
	m := e.Message
	body := m.GetConversation()
	if body == "" {
		body = m.GetExtendedTextMessage().GetText()
	}
	if body == "" {
		body = m.GetImageMessage().GetCaption()
	}
	if body == "" {
		body = m.GetVideoMessage().GetCaption()
	}
	if strings.TrimSpace(body) == "" {
		return commands.Message{}, false
	}
	return commands.Message{
		ID:        string(e.Info.ID),
		Sender:    e.Info.Sender.ToNonAD().String(),
		Chat:      e.Info.Chat.String(),
		PushName:  e.Info.PushName,
		Body:      body,
		Timestamp: e.Info.Timestamp,
		IsGroup:   e.Info.IsGroup,
	}, true
}
