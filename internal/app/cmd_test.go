package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck} {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("Find(%q) returned error: %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestNewRootCommand_HealthcheckHasURLFlag(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	cmd, _, err := root.Find([]string{string(CommandHealthcheck)})
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if cmd.Flags().Lookup("url") == nil {
		t.Error("healthcheck should accept --url")
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	err := Run(&bytes.Buffer{}, []string{"unknown"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_SubcommandRejectsArgs(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := Run(&bytes.Buffer{}, []string{"worker", "extra"})
	if err == nil {
		t.Fatal("expected error for extra args")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	for _, args := range [][]string{{}, {"serve"}, {"worker"}, {"migrate"}} {
		var buf bytes.Buffer
		if err := Run(&buf, args); err == nil {
			t.Errorf("Run(%v) with missing env should return error", args)
		}
	}
}

func TestRun_Migrate_SQLite(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite3://"+t.TempDir()+"/timelog.db")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate"}); err != nil {
		t.Fatalf("migrate returned error: %v\nlog: %s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "マイグレーションが完了しました") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestRun_Healthcheck_Unreachable(t *testing.T) {
	err := Run(&bytes.Buffer{}, []string{"healthcheck", "--url", "http://127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
