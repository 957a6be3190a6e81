// ABOUTME: Tests for the mock tool gateway fixtures shared by other packages.

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_InvokeAndRecord(t *testing.T) {
	g := NewMockGateway(Tool{Name: "list_datasets"}, Tool{Name: "forecast_metric"})
	g.SetResult("list_datasets", "Using dataset_id: abc-123")

	out, err := g.Invoke(t.Context(), "list_datasets", map[string]any{"query": "sales"})
	require.NoError(t, err)
	assert.Equal(t, "Using dataset_id: abc-123", out)

	out, err = g.Invoke(t.Context(), "forecast_metric", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: forecast_metric", out)

	_, err = g.Invoke(t.Context(), "nonexistent", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	inv := g.Invocations()
	require.Len(t, inv, 3)
	assert.Equal(t, "list_datasets", inv[0].Name)
	assert.Equal(t, "sales", inv[0].Args["query"])
}

func TestMockGateway_FailFirst(t *testing.T) {
	g := NewMockGateway(Tool{Name: "t"})
	g.FailFirst(2)

	_, err := g.Invoke(t.Context(), "t", nil)
	require.Error(t, err)
	_, err = g.Invoke(t.Context(), "t", nil)
	require.Error(t, err)

	out, err := g.Invoke(t.Context(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: t", out)
}

func TestMockGateway_ClosedRejectsCalls(t *testing.T) {
	g := NewMockGateway(Tool{Name: "t"})
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 2, g.CloseCount())

	_, err := g.Discover(t.Context())
	assert.ErrorIs(t, err, ErrGatewayClosed)
	_, err = g.Invoke(t.Context(), "t", nil)
	assert.ErrorIs(t, err, ErrGatewayClosed)
}

func TestMockDialer_OrderAndInjectedFailure(t *testing.T) {
	first := NewMockGateway()
	second := NewMockGateway()
	d := NewMockDialer(first, second)
	d.FailAt(2)

	g, err := d.Dial(t.Context())
	require.NoError(t, err)
	assert.Same(t, Gateway(first), g)

	_, err = d.Dial(t.Context())
	require.Error(t, err)
	assert.Equal(t, 2, d.Dials())
}
