package db

import (
	"os"
	"testing"
)

func TestRebind(t *testing.T) {
	q := "SELECT data_json FROM documents WHERE namespace=? AND collection=? AND id=?"
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite query should be unchanged, got %q", got)
	}
	want := "SELECT data_json FROM documents WHERE namespace=$1 AND collection=$2 AND id=$3"
	if got := Rebind(DriverPgx, q); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("db file missing: %v", err)
	}
}

func TestOpenPgxRequiresDSN(t *testing.T) {
	if _, err := Open(Config{Driver: DriverPgx}); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
