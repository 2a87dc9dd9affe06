package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mschirtzinger/offsync/internal/schema"
)

// ImportOptions controls ImportJSONL.
type ImportOptions struct {
	DryRun      bool // Validate and count without writing
	SkipSynced  bool // Drop entries already marked synced
	ResetSynced bool // Import every entry as unsynced
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Imported   int
	Duplicates int
	Skipped    int
	Errors     []string
}

// ExportJSONL writes every queue entry to w, one JSON object per line, in
// enqueue order. It returns the number of entries written.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	encoder := json.NewEncoder(w)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return i, fmt.Errorf("failed to write entry %s: %w", entries[i].ID, err)
		}
	}
	return len(entries), nil
}

// ImportJSONL appends the entries read from r to the queue. Entries whose ID
// is already queued are counted as duplicates and skipped. Entries that fail
// validation are reported in Errors and skipped; malformed JSON aborts the
// import before anything is written.
func (s *Store) ImportJSONL(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	incoming, err := decodeJSONL(r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.ID] = true
	}

	result := &ImportResult{}
	var accepted []schema.QueuedTransaction
	for i := range incoming {
		entry := incoming[i]

		if err := entry.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		if seen[entry.ID] {
			result.Duplicates++
			continue
		}
		if entry.Synced && opts.SkipSynced {
			result.Skipped++
			continue
		}
		if opts.ResetSynced {
			entry.Synced = false
		}

		seen[entry.ID] = true
		entry.Timestamp = entry.Timestamp.UTC()
		accepted = append(accepted, entry)
		result.Imported++
	}

	if opts.DryRun || result.Imported == 0 {
		return result, nil
	}

	seq, err := s.nextSeq(ctx, entries, int64(len(accepted)))
	if err != nil {
		return nil, err
	}
	for i := range accepted {
		accepted[i].Seq = seq + int64(i)
	}
	entries = append(entries, accepted...)

	if err := s.save(ctx, entries); err != nil {
		return nil, err
	}
	s.logger.Printf("Imported %d transactions (%d duplicates, %d skipped)",
		result.Imported, result.Duplicates, result.Skipped)
	return result, nil
}

func decodeJSONL(r io.Reader) ([]schema.QueuedTransaction, error) {
	var entries []schema.QueuedTransaction
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var entry schema.QueuedTransaction
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		entries = append(entries, entry)
	}

	return entries, nil
}
