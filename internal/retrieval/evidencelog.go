package retrieval

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// LogEntry is one line of the evidence log. kb_lookup reads the same shape.
type LogEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Src  string `json:"src"`
	Date string `json:"d"`
	Cred string `json:"cred"`
}

// EvidenceLog appends retrieved rows to a JSONL file.
// It is safe for concurrent use by batch runs.
type EvidenceLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewEvidenceLog creates a log writing to path
func NewEvidenceLog(path string) *EvidenceLog {
	return &EvidenceLog{path: path, now: time.Now}
}

// Path returns the file the log appends to
func (l *EvidenceLog) Path() string {
	return l.path
}

// Append writes one entry per search result. A nil log discards.
func (l *EvidenceLog) Append(results []SearchResult) error {
	if l == nil || len(results) == 0 {
		return nil
	}

	today := l.now().Format("2006-01-02")
	buf := make([]byte, 0, 256*len(results))
	for _, r := range results {
		text := r.Snippet
		if text == "" {
			text = r.Title
		}
		src := r.URL
		if src == "" {
			src = r.Src
		}
		date := r.Date
		if date == "" {
			date = today
		}
		cred := r.Cred
		if cred == "" {
			cred = "med"
		}
		line, err := json.Marshal(LogEntry{ID: r.Src + ":" + r.RID, Text: text, Src: src, Date: date, Cred: cred})
		if err != nil {
			return eris.Wrap(err, "encode evidence entry")
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "create evidence log directory")
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "open evidence log")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(buf); err != nil {
		return eris.Wrap(err, "write evidence log")
	}
	return nil
}
