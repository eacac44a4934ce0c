// ABOUTME: Token counting for chunk size bounds using tiktoken cl100k_base
// ABOUTME: Falls back to a character heuristic when the BPE tables cannot be loaded
package tokens

import (
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter counts tokens the way the embedding/chat models do.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter returns a counter; BPE initialization is deferred to first use.
func NewCounter() *Counter {
	return &Counter{}
}

// NewHeuristicCounter returns a counter that never loads BPE tables.
// Used in tests and offline environments.
func NewHeuristicCounter() *Counter {
	c := &Counter{}
	c.once.Do(func() {})
	return c
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			// Offline or first-run without cached BPE files; the
			// heuristic keeps chunk bounds approximately honest.
			log.Printf("[Tokens] tiktoken unavailable, using heuristic: %v", err)
			return
		}
		c.enc = enc
	})

	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

// heuristicCount approximates tokens as max(words, chars/4).
func heuristicCount(text string) int {
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if chars > words {
		return chars
	}
	return words
}
