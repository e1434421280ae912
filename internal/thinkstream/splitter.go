// Package thinkstream separates a streamed model reply into the reasoning
// channel (text inside <think>...</think>) and the visible reply channel.
package thinkstream

import "strings"

const (
	OpenTag  = "<think>"
	CloseTag = "</think>"
)

// State is the channel the splitter is currently routing text to.
type State int

const (
	StateReply State = iota
	StateThinking
)

func (s State) String() string {
	switch s {
	case StateReply:
		return "reply"
	case StateThinking:
		return "thinking"
	default:
		return "unknown"
	}
}

// FragmentFunc receives one resolved span of stream text.
type FragmentFunc func(text string)

// Option configures a Splitter.
type Option func(*Splitter)

// WithEagerFlush emits the whole pending buffer whenever no complete marker is
// found, even when its tail could be the start of a marker split across
// chunks. A split tag can then leak into the current channel as text.
func WithEagerFlush() Option {
	return func(s *Splitter) { s.eager = true }
}

// WithStateHook registers a function called on every marker transition, in
// order with the fragment callbacks.
func WithStateHook(hook func(from, to State)) Option {
	return func(s *Splitter) { s.onState = hook }
}

// Splitter incrementally classifies chunks of a single stream. It is not safe
// for concurrent use: Feed must return before the next call.
type Splitter struct {
	onReply    FragmentFunc
	onThinking FragmentFunc
	onState    func(from, to State)
	eager      bool

	state   State
	pending string
}

// New returns a splitter in StateReply. Nil callbacks discard their channel.
func New(onReply, onThinking FragmentFunc, opts ...Option) *Splitter {
	s := &Splitter{
		onReply:    onReply,
		onThinking: onThinking,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the channel text is currently routed to.
func (s *Splitter) State() State { return s.state }

// Pending returns text held back because it may be the start of a marker.
func (s *Splitter) Pending() string { return s.pending }

// Feed consumes the next chunk and emits every span that can be classified.
// All complete markers in the buffer are resolved before Feed returns.
func (s *Splitter) Feed(chunk string) {
	if chunk == "" {
		return
	}
	s.pending += chunk

	for s.pending != "" {
		tag := OpenTag
		if s.state == StateThinking {
			tag = CloseTag
		}

		idx := strings.Index(s.pending, tag)
		if idx < 0 {
			emit, keep := s.pending, ""
			if !s.eager {
				emit, keep = splitMarkerPrefix(s.pending, tag)
			}
			s.pending = keep
			s.emit(emit)
			return
		}

		s.emit(s.pending[:idx])
		s.pending = s.pending[idx+len(tag):]
		s.transition()
	}
}

// Finish releases any withheld tail to the current channel. The state is left
// unchanged, so an unterminated <think> block stays in StateThinking.
func (s *Splitter) Finish() {
	rest := s.pending
	s.pending = ""
	s.emit(rest)
}

func (s *Splitter) transition() {
	from := s.state
	if from == StateReply {
		s.state = StateThinking
	} else {
		s.state = StateReply
	}
	if s.onState != nil {
		s.onState(from, s.state)
	}
}

func (s *Splitter) emit(text string) {
	if text == "" {
		return
	}
	if s.state == StateThinking {
		if s.onThinking != nil {
			s.onThinking(text)
		}
		return
	}
	if s.onReply != nil {
		s.onReply(text)
	}
}

// splitMarkerPrefix keeps the longest suffix of text that is a proper prefix
// of tag.
func splitMarkerPrefix(text, tag string) (emit, keep string) {
	n := len(tag) - 1
	if n > len(text) {
		n = len(text)
	}
	for k := n; k > 0; k-- {
		if strings.HasSuffix(text, tag[:k]) {
			return text[:len(text)-k], text[len(text)-k:]
		}
	}
	return text, ""
}
