package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok)

	assert.Equal(t, ctx, WithTx(ctx, nil), "nil tx leaves ctx untouched")

	outer := &sql.Tx{}
	got, ok := From(WithTx(ctx, outer))
	require.True(t, ok)
	assert.Same(t, outer, got)
}

func TestRunJoinsOuterTx(t *testing.T) {
	outer := &sql.Tx{}
	ctx := WithTx(context.Background(), outer)

	var joined *sql.Tx
	// a nil db proves no new transaction is begun
	err := Run(ctx, nil, func(_ context.Context, tx *sql.Tx) error {
		joined = tx
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, outer, joined)
}
