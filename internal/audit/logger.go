package audit

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const genesisInput = "msh-genesis"

// Logger appends pipeline records to a hash-chained journal. It holds the
// file open for the life of the shell.
type Logger struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	enc      *json.Encoder
	seq      uint64
	prevHash string
}

// NewLogger opens or creates the journal at path and resumes its chain. A
// journal that no longer verifies is refused rather than extended.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	l := &Logger{path: path, f: f, prevHash: genesisHash()}
	r := NewReader(f)
	for r.Next() {
		e := r.Entry()
		l.seq, l.prevHash = e.Seq, e.Hash
	}
	if err := r.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("resume journal %s: %w", path, err)
	}

	l.enc = json.NewEncoder(f)
	l.enc.SetEscapeHTML(false)
	return l, nil
}

// Log appends r to the journal. Records that fail Entry.Check are rejected
// and leave the chain untouched.
func (l *Logger) Log(r Record) error {
	e := r.entry()
	if err := e.Check(); err != nil {
		return fmt.Errorf("journal record %q: %w", r.Pipeline, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("journal closed")
	}

	e.Seq = l.seq + 1
	e.Time = time.Now().UTC()
	e.PrevHash = l.prevHash
	e.Hash = computeHash(e)
	if err := l.enc.Encode(e); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	l.seq, l.prevHash = e.Seq, e.Hash
	return nil
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	return l.path
}

// Close releases the journal file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

var _ io.Closer = (*Logger)(nil)

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return fmt.Sprintf("%x", h)
}

func computeHash(e Entry) string {
	e.Hash = ""
	data, _ := json.Marshal(e)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
