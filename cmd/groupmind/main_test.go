package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/groupmind/internal/database"
)

func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "groupmind.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	content := "log:\n  level: error\n" +
		"database:\n  path: " + dbPath + "\n" +
		"telegram:\n  token: \"123456:test-token\"\n" +
		"gemini:\n  api_key: \"test-key\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, dbPath
}

func TestMigrateCommand(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--config", cfgPath})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "up to date")
	assert.FileExists(t, dbPath)
}

func TestRun_ExitCodes(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	assert.Equal(t, 0, run(context.Background(), []string{"migrate", "--config", cfgPath}))
	assert.Equal(t, 1, run(context.Background(), []string{"migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Equal(t, 1, run(context.Background(), []string{"no-such-command"}))
}

const exportedEvents = `{"group_id":"-100123","message_id":"1","sender_id":"7","sender_name":"Ana","timestamp":"2025-06-01T18:00:00Z","text":"Riverside Hall is booked"}
{"group_id":"-100123","message_id":"2","sender_id":"8","sender_name":"Ben","timestamp":"2025-06-01T18:01:00Z","text":"","media_kind":"sticker-pack"}

{"group_id":"-100123","message_id":"1","sender_id":"7","sender_name":"Ana","timestamp":"2025-06-01T18:00:00Z","text":"Riverside Hall is booked"}
{"group_id":"-100123","message_id":"3","timestamp":"2025-06-01T18:02:00Z","text":"no sender"}
`

func TestImportCommand(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	events := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(exportedEvents), 0o600))

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"import", events, "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Equal(t, "imported 2 messages, 1 already stored, 1 rejected\n", out.String())
	assert.Contains(t, errOut.String(), "line 5")

	db, err := database.NewDB(dbPath)
	require.NoError(t, err)
	defer database.CloseDB(db)
	store := database.NewStore(db, nil)

	got, err := store.Get(context.Background(), "-100123", "2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, database.MediaDocument, got.MediaKind, "unknown media kinds are read as documents")
}

func TestImportCommand_Stdin(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	t.Run("reads stdin", func(t *testing.T) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader(strings.SplitN(exportedEvents, "\n", 2)[0] + "\n"))
		cmd.SetArgs([]string{"import", "-", "--config", cfgPath})
		require.NoError(t, cmd.ExecuteContext(context.Background()))
		assert.Contains(t, out.String(), "imported 1 messages")
	})

	t.Run("malformed line stops the import", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader(`{"group_id":` + "\n"))
		cmd.SetArgs([]string{"import", "-", "--config", cfgPath})
		err := cmd.ExecuteContext(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})
}
