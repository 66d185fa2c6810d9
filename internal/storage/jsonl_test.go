package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJsonlJournalAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "settle.jsonl")
	journal := NewJsonlJournal(path)

	first := []Record{
		{Kind: "deposit", Account: "0xa1", Hash: "0x01", Timestamp: 100},
		{Kind: "outbound", Sequence: 1, Payload: "0xdead", Timestamp: 101},
	}
	if err := journal.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := journal.Append([]Record{{Kind: "borrow", Account: "0xa1", Timestamp: 102}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[0].Kind != "deposit" || got[1].Sequence != 1 || got[2].Timestamp != 102 {
		t.Fatalf("records mismatch: %+v", got)
	}
}

func TestJsonlJournalEmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.jsonl")
	if err := NewJsonlJournal(path).Append(nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty append created the file")
	}
}
