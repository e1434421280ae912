package thinkstream

import "strings"

// Channel labels a fragment.
type Channel string

const (
	ChannelReply    Channel = "reply"
	ChannelThinking Channel = "thinking"
)

// Fragment is one emitted span.
type Fragment struct {
	Channel Channel `json:"channel"`
	Text    string  `json:"text"`
}

// Collector records fragments in emission order and keeps both accumulators.
type Collector struct {
	Fragments []Fragment
	reply     strings.Builder
	thinking  strings.Builder
}

// Splitter returns a new splitter that appends into c.
func (c *Collector) Splitter(opts ...Option) *Splitter {
	return New(c.addReply, c.addThinking, opts...)
}

func (c *Collector) addReply(text string) {
	c.reply.WriteString(text)
	c.Fragments = append(c.Fragments, Fragment{Channel: ChannelReply, Text: text})
}

func (c *Collector) addThinking(text string) {
	c.thinking.WriteString(text)
	c.Fragments = append(c.Fragments, Fragment{Channel: ChannelThinking, Text: text})
}

func (c *Collector) Reply() string    { return c.reply.String() }
func (c *Collector) Thinking() string { return c.thinking.String() }

// SplitChunks feeds chunks through a fresh splitter, finishes it and returns
// the accumulated channels.
func SplitChunks(chunks ...string) (reply, thinking string) {
	var c Collector
	s := c.Splitter()
	for _, chunk := range chunks {
		s.Feed(chunk)
	}
	s.Finish()
	return c.Reply(), c.Thinking()
}

// Split separates a complete text.
func Split(text string) (reply, thinking string) {
	return SplitChunks(text)
}
