package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.CommandApplied("CREATE_ORDER", true)
	m.CommandApplied("CREATE_ORDER", false)
	m.CommandApplied("CREATE_ORDER", false)
	m.Fills("BTC_USDC", 3)
	m.PublishFailed()
	m.SnapshotTaken(0.01, nil)
	m.SnapshotTaken(0, errors.New("disk full"))
	m.RestingOrders(map[string]int{"BTC_USDC": 7})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("CREATE_ORDER", OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("CREATE_ORDER", OutcomeRejected)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fills.WithLabelValues("BTC_USDC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshotFailures))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.restingOrders.WithLabelValues("BTC_USDC")))
}

func TestUnknownCommandTypesShareOneSeries(t *testing.T) {
	m := New()
	m.CommandApplied("DROP_TABLE", false)
	m.CommandApplied("x-1", false)
	m.CommandApplied("", false)
	m.CommandApplied("ON_RAMP", true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.commands.WithLabelValues(CommandUnknown, OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("ON_RAMP", OutcomeOK)))
	// unknown, rejected and ON_RAMP, ok
	assert.Equal(t, 2, testutil.CollectAndCount(m.commands))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CommandApplied("GET_DEPTH", true)
	m.Fills("BTC_USDC", 1)
	m.PublishFailed()
	m.SnapshotTaken(1, nil)
	m.RestingOrders(map[string]int{"BTC_USDC": 1})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Fills("BTC_USDC", 2)

	app := fiber.New()
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `spot_engine_fills_total{market="BTC_USDC"} 2`)
}
