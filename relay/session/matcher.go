package session

import (
	"bytes"
	"errors"
)

// DefaultMaxBuffered caps the bytes held while waiting for a prompt.
const DefaultMaxBuffered = 64 * 1024

var errEmptyPrompt = errors.New("prompt marker must not be empty")

// promptMatcher accumulates output and recognizes the prompt marker at the end of the accumulated text.
// After a match, the buffer holds only bytes received after that prompt.
type promptMatcher struct {
	marker      []byte
	maxBuffered int
	buf         []byte
}

func newPromptMatcher(marker string, maxBuffered int) (*promptMatcher, error) {
	if marker == "" {
		return nil, errEmptyPrompt
	}
	if maxBuffered < len(marker) {
		maxBuffered = DefaultMaxBuffered
	}
	return &promptMatcher{
		marker:      []byte(marker),
		maxBuffered: maxBuffered,
	}, nil
}

// Feed appends a chunk and reports whether the accumulated output now ends with the prompt.
func (m *promptMatcher) Feed(chunk []byte) bool {
	m.buf = append(m.buf, chunk...)
	if bytes.HasSuffix(m.buf, m.marker) {
		m.buf = m.buf[:0]
		return true
	}
	if len(m.buf) > m.maxBuffered {
		// keep enough of the tail for a prompt split across chunks
		keep := len(m.marker) - 1
		m.buf = append(m.buf[:0], m.buf[len(m.buf)-keep:]...)
	}
	return false
}

// Buffered returns the bytes received since the last prompt.
func (m *promptMatcher) Buffered() []byte {
	return m.buf
}
