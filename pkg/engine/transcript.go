package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/llm"
)

// Entry one line of the conversation transcript
type Entry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Transcript is the running record of what was said on the call.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

func (t *Transcript) add(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Role: role, Content: content, Timestamp: time.Now()})
}

func (t *Transcript) Assistant(content string) { t.add(llm.RoleAssistant, content) }

func (t *Transcript) User(content string) { t.add(llm.RoleUser, content) }

// Messages returns the transcript in gateway form.
func (t *Transcript) Messages() []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]llm.Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = llm.Message{Role: e.Role, Content: e.Content}
	}
	return out
}

func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// WriteTo writes the transcript as "role: content" lines.
func (t *Transcript) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range t.Entries() {
		n, err := fmt.Fprintf(w, "%s: %s\n", e.Role, e.Content)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
