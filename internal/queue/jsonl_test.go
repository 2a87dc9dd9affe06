package queue

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestExportImportJSONL(t *testing.T) {
	ctx := context.Background()
	src, _ := setupStore(t)

	for i := 1; i <= 3; i++ {
		if _, err := src.Enqueue(ctx, earn(float64(i))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := src.MarkSynced(ctx, "tx-2"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	var buf bytes.Buffer
	n, err := src.ExportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 exported entries, got %d", n)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}

	dst, _ := setupStore(t)
	result, err := dst.ImportJSONL(ctx, bytes.NewReader(buf.Bytes()), ImportOptions{SkipSynced: true})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	entries, err := dst.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "tx-1" || entries[1].ID != "tx-3" {
		t.Fatalf("unexpected entries after import: %+v", entries)
	}
	if entries[0].Seq != 1 || entries[1].Seq != 2 {
		t.Errorf("seq should be reassigned in file order, got %d, %d", entries[0].Seq, entries[1].Seq)
	}
}

func TestImportJSONL_Duplicates(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)
	if _, err := s.Enqueue(ctx, earn(1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := s.ExportJSONL(ctx, &buf); err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}

	result, err := s.ImportJSONL(ctx, &buf, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Duplicates != 1 || result.Imported != 0 {
		t.Errorf("expected 1 duplicate and nothing imported, got %+v", result)
	}
}

func TestImportJSONL_DryRun(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	input := `{"id":"a","type":"earn","amount":5,"description":"x","timestamp":"2026-01-10T07:36:29Z","synced":false}
{"id":"b","type":"spend","amount":2,"description":"y","timestamp":"2026-01-10T08:00:00Z","synced":false}
`
	result, err := s.ImportJSONL(ctx, strings.NewReader(input), ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("expected 2 would-be imports, got %d", result.Imported)
	}

	entries, _ := s.List(ctx)
	if len(entries) != 0 {
		t.Errorf("dry run wrote %d entries", len(entries))
	}
}

func TestImportJSONL_Errors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantErrors int
	}{
		{
			name:    "malformed JSON",
			input:   `{"id":"a",`,
			wantErr: true,
		},
		{
			name:       "invalid type is reported and skipped",
			input:      `{"id":"a","type":"refund","amount":1,"timestamp":"2026-01-10T07:36:29Z"}`,
			wantErrors: 1,
		},
		{
			name:       "missing id is reported and skipped",
			input:      `{"type":"earn","amount":1,"timestamp":"2026-01-10T07:36:29Z"}`,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupStore(t)
			result, err := s.ImportJSONL(context.Background(), strings.NewReader(tt.input), ImportOptions{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("ImportJSONL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(result.Errors) != tt.wantErrors {
				t.Errorf("expected %d errors, got %v", tt.wantErrors, result.Errors)
			}
		})
	}
}
