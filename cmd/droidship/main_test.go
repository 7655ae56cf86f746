package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/domain"
)

func TestPrintJSONIndents(t *testing.T) {
	var buf bytes.Buffer
	rec := domain.VersionRecord{Version: "1.0.1", VersionCode: 1}
	require.NoError(t, printJSON(&buf, rec))

	out := buf.String()
	assert.Contains(t, out, "\"version\": \"1.0.1\"")
	assert.Contains(t, out, "\"versionCode\": 1")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0a1b2c3d", shortID("0a1b2c3d-4e5f-6789-abcd-ef0123456789"))
	assert.Equal(t, "short", shortID("short"))
}
