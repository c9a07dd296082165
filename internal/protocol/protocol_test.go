package protocol

import (
	"encoding/json"
	"testing"

	"github.com/fentz26/beacon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRoundTrip(t *testing.T) {
	res := models.LinesResult([]string{"hi"})
	tasks := []models.Task{
		{Command: "echo hi", Status: models.TaskStatusQueued},
		{Command: "ls -la /tmp", Requested: true, Status: models.TaskStatusDispatched},
		{Command: "whoami", Requested: true, Status: models.TaskStatusCompleted, Result: &res},
		{Command: models.KillCommand, Status: models.TaskStatusDispatched, Requested: true},
		{Command: "", Status: models.TaskStatusQueued},
	}

	for _, task := range tasks {
		data, err := EncodeTaskResponse(task, true)
		require.NoError(t, err)

		resp, err := DecodeTaskResponse(data)
		require.NoError(t, err)
		require.False(t, resp.NoWork)
		assert.Equal(t, task.Command, resp.Descriptor.Command)
		assert.Equal(t, task.Status, resp.Descriptor.Status)
		assert.Equal(t, task.Requested, resp.Descriptor.Requested)
		assert.Equal(t, SchemaVersion, resp.Descriptor.Version)
	}
}

func TestNoWorkSentinel(t *testing.T) {
	data, err := EncodeTaskResponse(models.Task{}, false)
	require.NoError(t, err)

	raw, err := Decompress(data)
	require.NoError(t, err)
	assert.JSONEq(t, `"No Queued Tasks"`, string(raw))

	resp, err := DecodeTaskResponse(data)
	require.NoError(t, err)
	assert.True(t, resp.NoWork)
}

func TestResultRoundTrip(t *testing.T) {
	results := []models.Result{
		models.LinesResult([]string{"a", "b"}),
		models.KilledResult(),
		models.FailureResult(models.Failure{Kind: models.FailureExec, Message: "exit status 1", ExitCode: 1}),
	}
	for _, r := range results {
		data, err := EncodeResult(r)
		require.NoError(t, err)
		got, err := DecodeResult(data)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeResult([]byte("definitely not zlib"))
	require.ErrorIs(t, err, ErrMalformed)

	// Valid compression around invalid JSON.
	data, err := Compress([]byte("{not json"))
	require.NoError(t, err)
	_, err = DecodeResult(data)
	require.ErrorIs(t, err, ErrMalformed)

	// JSON that is neither lines, failure nor KILLED.
	data, err = Encode("something else")
	require.NoError(t, err)
	_, err = DecodeResult(data)
	require.ErrorIs(t, err, ErrMalformed)
	require.ErrorIs(t, err, models.ErrUnknownResult)

	// Uncompressed JSON is a protocol error: order of stages matters.
	raw, _ := json.Marshal([]string{"hi"})
	_, err = DecodeResult(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeTaskResponseVersion(t *testing.T) {
	data, err := Encode(TaskDescriptor{Version: SchemaVersion + 1, Command: "id"})
	require.NoError(t, err)

	_, err = DecodeTaskResponse(data)
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	data, err = Encode("Some Other Sentinel")
	require.NoError(t, err)
	_, err = DecodeTaskResponse(data)
	require.ErrorIs(t, err, ErrMalformed)
}
