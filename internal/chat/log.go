package chat

import "sync"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment references an uploaded document by storage key; the transcript
// never carries file bytes.
type Attachment struct {
	BlobRef     string
	DisplayName string
}

// Turn is one message in the conversation. Turns are immutable once appended;
// Seq is assigned at append time and is strictly increasing.
type Turn struct {
	Seq        int
	Role       Role
	Text       string
	Attachment *Attachment
}

// Log is the append-only conversation transcript for a single check-in
// session. It is the single source of truth for every outbound exchange
// payload: callers always project the full ordered sequence, never a subset.
type Log struct {
	mu      sync.Mutex
	turns   []Turn
	nextSeq int
}

func NewLog() *Log {
	return &Log{nextSeq: 1}
}

// Append adds one turn and returns it with its assigned sequence id.
func (l *Log) Append(role Role, text string) Turn {
	return l.append(role, text, nil)
}

// AppendAttachment adds a turn carrying a document reference.
func (l *Log) AppendAttachment(role Role, text string, att Attachment) Turn {
	return l.append(role, text, &att)
}

func (l *Log) append(role Role, text string, att *Attachment) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := Turn{Seq: l.nextSeq, Role: role, Text: text, Attachment: att}
	l.nextSeq++
	l.turns = append(l.turns, t)
	return t
}

// Entry is a role/text pair used to rebuild the log from a server-supplied
// transcript.
type Entry struct {
	Role Role
	Text string
}

// Rebuild replaces the transcript wholesale with the given entries,
// renumbering sequence ids by position. This is the reconciliation path for a
// full-replacement exchange response, not an error path; it is the only
// non-append mutation the log permits.
func (l *Log) Rebuild(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	turns := make([]Turn, 0, len(entries))
	for i, e := range entries {
		turns = append(turns, Turn{Seq: i + 1, Role: e.Role, Text: e.Text})
	}
	l.turns = turns
	l.nextSeq = len(turns) + 1
}

// Snapshot returns a copy of all turns in order.
func (l *Log) Snapshot() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}
