package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/netutil"
	"github.com/m3rciful/wabot/core/queue"
)

// textSender is the part of *whatsmeow.Client the replier needs.
type textSender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	GenerateMessageID() types.MessageID
}

// Replier sends text replies through the outbound queue.
type Replier struct {
	client textSender
	queue  *queue.Queue
}

var _ commands.Replier = (*Replier)(nil)

// NewReplier creates a Replier. With a nil queue replies are sent inline.
func NewReplier(client textSender, q *queue.Queue) *Replier {
	return &Replier{client: client, queue: q}
}

// Reply implements commands.Replier. The message id is fixed before the
// first attempt so a retried send cannot produce a duplicate.
func (r *Replier) Reply(ctx context.Context, to commands.Message, text string) error {
	if to.Chat == "" {
		return fmt.Errorf("reply: message %q has no chat", to.ID)
	}
	jid, err := types.ParseJID(to.Chat)
	if err != nil {
		return fmt.Errorf("reply: parse chat %q: %w", to.Chat, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	extra := whatsmeow.SendRequestExtra{ID: r.client.GenerateMessageID()}
	job := queue.Job{
		Action: "send",
		Target: jid.String(),
		Run: func(ctx context.Context) error {
			_, err := r.client.SendMessage(ctx, jid, msg, extra)
			return err
		},
	}
	if r.queue == nil {
		return job.Run(ctx)
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// SendRetryable reports whether a failed send should be retried: transient
// network errors and the client being between reconnects.
func SendRetryable(err error) bool {
	return netutil.ShouldRetry(err, whatsmeow.ErrNotConnected, whatsmeow.ErrIQTimedOut)
}
