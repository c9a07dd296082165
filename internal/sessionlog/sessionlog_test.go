package sessionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedTask(cmd string, lines ...string) models.Task {
	res := models.LinesResult(lines)
	return models.Task{
		ID:        "id-" + cmd,
		Command:   cmd,
		Result:    &res,
		Requested: true,
		Status:    models.TaskStatusCompleted,
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "session_log.json")
	f, err := Open(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, path, f.Path())

	records, err := f.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendKeepsPriorRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_log.json")
	f, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Append(ctx, completedTask("whoami", "root")))
	require.NoError(t, f.Append(ctx, completedTask("echo hi", "hi")))

	records, err := f.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "whoami", records[0].Command)
	assert.Equal(t, "echo hi", records[1].Command)
	assert.Equal(t, []string{"hi"}, records[1].Result.Lines)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc[LogKey], 2)
	assert.Equal(t, "completed", doc[LogKey][0]["status"])
	assert.NotContains(t, doc[LogKey][0], "id", "server-local fields are not logged")
}

func TestCorruptDocumentStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_log.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	var logs bytes.Buffer
	logger := logging.New(logging.Config{Output: &logs})
	f, err := Open(path, WithLogger(logger))
	require.NoError(t, err)

	records, err := f.Records()
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, f.Append(context.Background(), completedTask("id", "uid=0")))

	records, err = f.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "id", records[0].Command)

	backups, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(data), "the unparsable document is kept verbatim")
	assert.Contains(t, logs.String(), "starting a fresh list")
}

func TestForeignRecordsAreCarriedOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_log.json")
	legacy := `{"OUTPUT_LOG": [{"command": "ls", "result": "", "requested": true, "status": "Task Completed"}]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Append(context.Background(), completedTask("pwd", "/")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc[LogKey], 2)
	assert.Equal(t, "Task Completed", doc[LogKey][0]["status"])
	assert.Equal(t, "pwd", doc[LogKey][1]["command"])
}
