package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const maxLine = 1 << 20

// Reader walks a journal from its first entry, verifying the chain and
// each record as it goes. It stops at the first violation.
type Reader struct {
	sc       *bufio.Scanner
	line     int
	prevHash string
	entry    Entry
	err      error
}

// NewReader reads journal lines from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	return &Reader{sc: sc, prevHash: genesisHash()}
}

// Next advances to the next entry. It returns false at the end of the
// journal or on the first violation, which Err then reports.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.sc.Scan() {
		r.line++
		data := bytes.TrimSpace(r.sc.Bytes())
		if len(data) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			r.err = fmt.Errorf("line %d: invalid JSON: %w", r.line, err)
			return false
		}
		if err := r.follow(e); err != nil {
			r.err = fmt.Errorf("line %d: %w", r.line, err)
			return false
		}
		r.entry = e
		return true
	}
	if err := r.sc.Err(); err != nil {
		r.err = fmt.Errorf("read journal: %w", err)
	}
	return false
}

// follow checks that e extends the chain read so far.
func (r *Reader) follow(e Entry) error {
	if want := r.entry.Seq + 1; e.Seq != want {
		return fmt.Errorf("sequence gap: expected %d, got %d", want, e.Seq)
	}
	if e.PrevHash != r.prevHash {
		return fmt.Errorf("prev_hash mismatch: expected %s, got %s", short(r.prevHash), short(e.PrevHash))
	}
	if sum := computeHash(e); e.Hash != sum {
		return fmt.Errorf("hash mismatch: expected %s, got %s", short(sum), short(e.Hash))
	}
	if err := e.Check(); err != nil {
		return fmt.Errorf("seq %d: %w", e.Seq, err)
	}
	r.prevHash = e.Hash
	return nil
}

// Entry returns the entry Next advanced to.
func (r *Reader) Entry() Entry { return r.entry }

// Err returns the violation or read error that stopped Next.
func (r *Reader) Err() error { return r.err }

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "..."
	}
	return hash
}

// Verify checks every entry of the journal at path. An empty journal is
// valid.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	defer f.Close()

	r := NewReader(f)
	for r.Next() {
	}
	return r.Err()
}

// Tail returns the last n verified entries of the journal at path. A
// journal that fails verification yields an error.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	r := NewReader(f)
	for r.Next() {
		entries = append(entries, r.Entry())
		if len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
