package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestShouldRetry(t *testing.T) {
	errNotConnected := errors.New("websocket not connected")

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"cancelled", context.Canceled, false},
		{"eof", fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF), true},
		{"timeout", timeoutErr{}, true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"url timeout", &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}, true},
		{"transient sentinel", fmt.Errorf("send: %w", errNotConnected), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldRetry(tc.err, errNotConnected))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
	assert.Equal(t, "timeout", Classify(context.DeadlineExceeded))
	assert.Equal(t, "cancelled", Classify(context.Canceled))
	assert.Equal(t, "dial", Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, "dns", Classify(&net.DNSError{Name: "example.invalid"}))
	assert.Equal(t, "eof", Classify(io.ErrUnexpectedEOF))
	assert.Equal(t, "unknown", Classify(errors.New("boom")))
}
