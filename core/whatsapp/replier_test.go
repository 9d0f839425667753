package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/queue"
)

type sent struct {
	to   types.JID
	text string
	id   types.MessageID
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sent
	fails []error
}

func (f *fakeSender) SendMessage(_ context.Context, to types.JID, msg *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fails) > 0 {
		err := f.fails[0]
		f.fails = f.fails[1:]
		return whatsmeow.SendResponse{}, err
	}
	var id types.MessageID
	if len(extra) > 0 {
		id = extra[0].ID
	}
	f.sent = append(f.sent, sent{to: to, text: msg.GetConversation(), id: id})
	return whatsmeow.SendResponse{ID: id}, nil
}

func (f *fakeSender) GenerateMessageID() types.MessageID { return "3EB0FIXED" }

func (f *fakeSender) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func TestReplierSendsInlineWithoutQueue(t *testing.T) {
	fs := &fakeSender{}
	r := NewReplier(fs, nil)

	require.NoError(t, r.Reply(context.Background(), commands.Message{Chat: "111@s.whatsapp.net"}, "pong"))

	got := fs.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "111@s.whatsapp.net", got[0].to.String())
	assert.Equal(t, "pong", got[0].text)
	assert.Equal(t, types.MessageID("3EB0FIXED"), got[0].id)
}

func TestReplierRetriesThroughQueue(t *testing.T) {
	fs := &fakeSender{fails: []error{whatsmeow.ErrNotConnected}}
	q := queue.New(queue.Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond, Retryable: SendRetryable})
	r := NewReplier(fs, q)

	require.NoError(t, r.Reply(context.Background(), commands.Message{Chat: "123-456@g.us"}, "hi group"))
	q.Close()

	got := fs.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, types.GroupServer, got[0].to.Server)
	assert.Equal(t, "hi group", got[0].text)
	assert.Zero(t, q.ErrorCount())
}

func TestReplierRejectsBadChat(t *testing.T) {
	r := NewReplier(&fakeSender{}, nil)
	assert.Error(t, r.Reply(context.Background(), commands.Message{ID: "3EB0"}, "x"))
	assert.Error(t, r.Reply(context.Background(), commands.Message{Chat: "111:abc@s.whatsapp.net"}, "x"))
}

func TestReplierReportsClosedQueue(t *testing.T) {
	q := queue.New(queue.Options{Workers: 1})
	q.Close()
	r := NewReplier(&fakeSender{}, q)

	err := r.Reply(context.Background(), commands.Message{Chat: "111@s.whatsapp.net"}, "x")
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestSendRetryable(t *testing.T) {
	assert.True(t, SendRetryable(whatsmeow.ErrNotConnected))
	assert.True(t, SendRetryable(fmt.Errorf("send: %w", whatsmeow.ErrIQTimedOut)))
	assert.False(t, SendRetryable(errors.New("message too large")))
	assert.False(t, SendRetryable(context.Canceled))
	assert.False(t, SendRetryable(nil))
}
