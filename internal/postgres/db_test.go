package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDefinesOrderTables(t *testing.T) {
	s := Schema()
	for _, table := range []string{"inventory", "orders", "order_items", "order_discounts", "profits", "notifications"} {
		assert.Contains(t, s, "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
	assert.Contains(t, s, "generate_order_number()")
}

func TestConnectRejectsBadDSN(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse dsn")
}
