package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesPDF(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render(context.Background(), &Document{
		Title:       "Invoice #1",
		HeaderLines: []string{"Date: 2024-01-15", "Customer ID: 7"},
		Columns:     []string{"description", "quantity", "unit_price", "total"},
		Rows:        [][]string{{"Consulting", "2", "50.00", "100.00"}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderWithoutRows(t *testing.T) {
	out, err := NewRenderer().Render(context.Background(), &Document{Title: "Statement for Customer 9"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderSingleColumn(t *testing.T) {
	out, err := NewRenderer().Render(context.Background(), &Document{
		Title:   "Balances",
		Columns: []string{"account_name"},
		Rows:    [][]string{{"Cash"}, {"Sales"}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRejectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRenderer().Render(ctx, &Document{Title: "T"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderNilDocument(t *testing.T) {
	_, err := NewRenderer().Render(context.Background(), nil)
	assert.Error(t, err)
}
