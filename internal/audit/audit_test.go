package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iolipix/JuriNapse-sub001/pkg/log"
)

func TestLogTarget(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), zerolog.New(&buf))

	LogTarget(ctx, ActionFollow, "u1", "u2", "user followed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionFollow, entry[FieldAction])
	assert.Equal(t, "u1", entry[log.FieldUserID])
	assert.Equal(t, "u2", entry[log.FieldTargetID])
	assert.Equal(t, "user followed", entry["message"])
}

func TestLogFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), zerolog.New(&buf))

	LogFields(ctx, ActionRepair, "admin", map[string]interface{}{"users_scanned": 3}, "repair finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(3), entry["users_scanned"])
}
