package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringerID string

func (s stringerID) String() string { return string(s) }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestComponentFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := Component("archive")
	logger.Block(stringerID("(-1:8000000000000000,7)")).Package("arch00000/archive.00000.pack").
		Debug().Msg("moving entry")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "archive", lines[0]["component"])
	assert.Equal(t, "(-1:8000000000000000,7)", lines[0]["block"])
	assert.Equal(t, "arch00000/archive.00000.pack", lines[0]["package"])
}

func TestRootLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger := Component("celldb")
	logger.Debug().Msg("suppressed")
	logger.Info().Msg("suppressed")
	logger.Warn().Msg("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
}

func TestComponentLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{
		Level:           ErrorLevel,
		JSONOutput:      true,
		Output:          &buf,
		ComponentLevels: map[string]Level{"gc": DebugLevel},
	})

	// The override opens up one component without touching the others
	Component("gc").Debug().Msg("gc detail")
	Component("celldb").Info().Msg("suppressed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "gc", lines[0]["component"])
	assert.Equal(t, "gc detail", lines[0]["message"])
}

func TestCellAndShardFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	Component("celldb").Cell(stringerID("ab12")).Shard(stringerID("0:8000000000000000")).
		Debug().Msg("marked")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ab12", lines[0]["cell"])
	assert.Equal(t, "0:8000000000000000", lines[0]["shard"])
}
