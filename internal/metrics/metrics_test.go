package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	before := testutil.ToFloat64(gateBlockedTotal)
	IncGateBlocked()
	assert.Equal(t, before+1, testutil.ToFloat64(gateBlockedTotal))

	IncLedgerDropped("LOW")
	assert.GreaterOrEqual(t, testutil.ToFloat64(ledgerDroppedTotal.WithLabelValues("LOW")), 1.0)

	SetBlockCacheEntries(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(blockCacheEntries))
}
