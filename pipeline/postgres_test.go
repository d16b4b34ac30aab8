package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeExec struct {
	mu     sync.Mutex
	calls  []string
	args   [][]any
	failOn map[int]error // insert index -> error
	insert int
}

func (f *fakeExec) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sql)
	if !strings.HasPrefix(strings.TrimSpace(sql), "INSERT") {
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	i := f.insert
	f.insert++
	if err, ok := f.failOn[i]; ok {
		return pgconn.CommandTag{}, err
	}
	f.args = append(f.args, arguments)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresWriterInitTable(t *testing.T) {
	db := &fakeExec{}
	w := newPostgresWriter(context.Background(), db)
	if err := w.InitTable(context.Background()); err != nil {
		t.Fatalf("init table: %v", err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0], "CREATE TABLE IF NOT EXISTS listings") {
		t.Fatalf("unexpected statements: %v", db.calls)
	}
}

func TestPostgresWriterCreateMany(t *testing.T) {
	db := &fakeExec{}
	w := newPostgresWriter(context.Background(), db)

	if err := w.Write(sampleListings()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(db.args) != 2 {
		t.Fatalf("inserted rows = %d, want 2", len(db.args))
	}
	if id, ok := db.args[0][1].(*string); !ok || id == nil || *id != "B000123456" {
		t.Fatalf("product_id arg = %#v", db.args[0][1])
	}
	if id, ok := db.args[1][1].(*string); !ok || id != nil {
		t.Fatalf("expected nil product_id for the second row, got %#v", db.args[1][1])
	}
	if written, failed := w.Counts(); written != 2 || failed != 0 {
		t.Fatalf("counts = %d/%d, want 2/0", written, failed)
	}
}

func TestPostgresWriterSkipsFailedRows(t *testing.T) {
	db := &fakeExec{failOn: map[int]error{0: errors.New("connection reset")}}
	w := newPostgresWriter(context.Background(), db)

	err := w.Write(sampleListings())
	if !errors.Is(err, ErrPartialWrite) {
		t.Fatalf("err = %v, want ErrPartialWrite", err)
	}
	var partial *PartialWriteError
	if !errors.As(err, &partial) || partial.Failed != 1 || partial.Total != 2 {
		t.Fatalf("partial = %+v", partial)
	}
	if len(db.args) != 1 {
		t.Fatalf("inserted rows = %d, want 1", len(db.args))
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestPostgresWriterValidateAllFailed(t *testing.T) {
	boom := errors.New("relation does not exist")
	db := &fakeExec{failOn: map[int]error{0: boom, 1: boom}}
	w := newPostgresWriter(context.Background(), db)

	_ = w.Write(sampleListings())
	if err := w.Validate(); err == nil {
		t.Fatalf("expected validate error when no rows were stored")
	}
}

func TestPostgresWriterStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newPostgresWriter(ctx, &fakeExec{})

	if err := w.CreateMany(ctx, []*models.Listing{sampleListings()[0]}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
