package thinkstream

import "unicode/utf8"

// RuneBuffer converts raw byte chunks from a transport into strings that
// never end inside a multi-byte UTF-8 sequence. The incomplete tail is held
// until the next Write.
type RuneBuffer struct {
	pending []byte
}

// Write appends p and returns the longest prefix made of complete runes.
func (b *RuneBuffer) Write(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	b.pending = append(b.pending, p...)

	cut := len(b.pending)
	for i := len(b.pending) - 1; i >= 0 && i >= len(b.pending)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b.pending[i]) {
			continue
		}
		if !utf8.FullRune(b.pending[i:]) {
			cut = i
		}
		break
	}

	out := string(b.pending[:cut])
	b.pending = append(b.pending[:0], b.pending[cut:]...)
	return out
}

// Flush returns whatever is still held, complete or not.
func (b *RuneBuffer) Flush() string {
	out := string(b.pending)
	b.pending = b.pending[:0]
	return out
}
