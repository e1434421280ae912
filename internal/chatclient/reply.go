package chatclient

import (
	"context"
	"strings"

	"github.com/bfalabs/bfa-assistant/internal/thinkstream"
)

// ErrorReply replaces the reply when the stream cannot be read.
const ErrorReply = "获取回复失败，请重试。"

// ThinkingPlaceholder is shown until the first thinking text arrives.
const ThinkingPlaceholder = "思考中..."

// Reply accumulates one assistant message. Each Reply owns its own
// splitter so messages never share parsing state.
type Reply struct {
	thinking strings.Builder
	reply    strings.Builder
	splitter *thinkstream.Splitter
	failed   bool
	done     bool
}

func NewReply(opts ...thinkstream.Option) *Reply {
	r := &Reply{}
	r.splitter = thinkstream.New(
		func(text string) { r.reply.WriteString(text) },
		func(text string) { r.thinking.WriteString(text) },
		opts...,
	)
	return r
}

// Feed consumes one raw chunk of the stream.
func (r *Reply) Feed(chunk string) { r.splitter.Feed(chunk) }

// Finish releases text withheld at the end of the stream.
func (r *Reply) Finish() {
	r.splitter.Finish()
	r.done = true
}

// Fail marks the message as failed; Text then returns ErrorReply.
func (r *Reply) Fail() {
	r.failed = true
	r.done = true
}

func (r *Reply) Thinking() string { return r.thinking.String() }

// Text is the visible reply, or ErrorReply after a failure.
func (r *Reply) Text() string {
	if r.failed {
		return ErrorReply
	}
	return r.reply.String()
}

func (r *Reply) Failed() bool { return r.failed }
func (r *Reply) Done() bool   { return r.done }

// InThinking reports whether the stream is currently inside a <think> block.
func (r *Reply) InThinking() bool {
	return r.splitter.State() == thinkstream.StateThinking
}

// DisplayThinking is the thinking text, or the placeholder while the model
// has produced nothing yet.
func (r *Reply) DisplayThinking() string {
	if t := r.thinking.String(); t != "" {
		return t
	}
	if r.done {
		return ""
	}
	return ThinkingPlaceholder
}

// Ask streams a reply to message into a new Reply. onUpdate, if set, is
// called after every chunk and once more when the reply is complete. On
// transport failure the Reply is marked failed and the error is returned.
func (c *Client) Ask(ctx context.Context, message string, onUpdate func(*Reply)) (*Reply, error) {
	r := NewReply()
	err := c.StreamChat(ctx, message, func(chunk string) {
		r.Feed(chunk)
		if onUpdate != nil {
			onUpdate(r)
		}
	})
	if err != nil {
		r.Fail()
	} else {
		r.Finish()
	}
	if onUpdate != nil {
		onUpdate(r)
	}
	return r, err
}
