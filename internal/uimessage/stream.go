package uimessage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Stream response headers.
const (
	StreamHeader        = "x-vercel-ai-ui-message-stream"
	StreamHeaderVersion = "v1"
	StreamContentType   = "text/event-stream"
)

// Chunk is one UI message stream event.
type Chunk struct {
	Type         string `json:"type"`
	MessageID    string `json:"messageId,omitempty"`
	ID           string `json:"id,omitempty"`
	Delta        string `json:"delta,omitempty"`
	ErrorText    string `json:"errorText,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// StreamWriter writes UI message stream events as server-sent events. It
// is not safe for concurrent use.
type StreamWriter struct {
	w      *bufio.Writer
	err    error
	closed bool
}

func NewStreamWriter(w *bufio.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Err returns the first write error. Once set, later writes are no-ops.
func (s *StreamWriter) Err() error { return s.err }

func (s *StreamWriter) Start(messageID string) error {
	return s.write(Chunk{Type: "start", MessageID: messageID})
}

func (s *StreamWriter) StartStep() error { return s.write(Chunk{Type: "start-step"}) }

func (s *StreamWriter) TextStart(id string) error {
	return s.write(Chunk{Type: "text-start", ID: id})
}

func (s *StreamWriter) TextDelta(id, delta string) error {
	return s.write(Chunk{Type: "text-delta", ID: id, Delta: delta})
}

func (s *StreamWriter) TextEnd(id string) error {
	return s.write(Chunk{Type: "text-end", ID: id})
}

func (s *StreamWriter) FinishStep() error { return s.write(Chunk{Type: "finish-step"}) }

func (s *StreamWriter) Finish(reason string) error {
	return s.write(Chunk{Type: "finish", FinishReason: reason})
}

func (s *StreamWriter) Error(text string) error {
	return s.write(Chunk{Type: "error", ErrorText: text})
}

// Done terminates the stream.
func (s *StreamWriter) Done() error {
	if s.closed || s.err != nil {
		return s.err
	}
	s.closed = true
	if _, err := s.w.WriteString("data: [DONE]\n\n"); err != nil {
		s.err = err
		return err
	}
	s.err = s.w.Flush()
	return s.err
}

func (s *StreamWriter) write(c Chunk) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return fmt.Errorf("uimessage: write %s after done", c.Type)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.err = err
		return err
	}
	s.err = s.w.Flush()
	return s.err
}

// SmoothWords re-chunks a stream of text deltas into whole words, each
// followed by its trailing whitespace, pausing delay between chunks. A word
// is sent as soon as whitespace follows it. Text
// left when in closes is flushed as one final chunk. The output channel is
// closed when in is drained or ctx is done.
func SmoothWords(ctx context.Context, in <-chan string, delay time.Duration) <-chan string {
	out := make(chan string, 16)

	go func() {
		defer close(out)

		var buf strings.Builder
		emit := func(s string) bool {
			select {
			case out <- s:
			case <-ctx.Done():
				return false
			}
			if delay <= 0 {
				return true
			}
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for delta := range in {
			buf.WriteString(delta)
			for {
				word, rest, ok := cutWord(buf.String())
				if !ok {
					break
				}
				buf.Reset()
				buf.WriteString(rest)
				if !emit(word) {
					return
				}
			}
		}

		if buf.Len() > 0 {
			emit(buf.String())
		}
	}()

	return out
}

// cutWord splits off the first word together with the whitespace run that
// follows it in s. It reports false until at least one whitespace rune
// follows the word.
func cutWord(s string) (word, rest string, ok bool) {
	i := skip(s, 0, true)
	start := i
	i = skip(s, i, false)
	if i == start {
		return "", s, false
	}
	j := skip(s, i, true)
	if j == i {
		return "", s, false
	}
	return s[:j], s[j:], true
}

// skip advances from i over runes whose unicode.IsSpace matches space.
func skip(s string, i int, space bool) int {
	for i < len(s) {
		r, n := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) != space {
			break
		}
		i += n
	}
	return i
}
