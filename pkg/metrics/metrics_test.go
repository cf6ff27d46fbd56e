package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	CellsWritten.Add(3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(CellsWritten), float64(3))

	ArchiveEntries.WithLabelValues("block").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(ArchiveEntries.WithLabelValues("block")), float64(1))
}

func TestHandler(t *testing.T) {
	assert.NotNil(t, Handler())
}
