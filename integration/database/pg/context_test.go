package pg_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/courier/integration/database/pg"
)

func TestTxContext(t *testing.T) {
	t.Parallel()

	_, ok := pg.TxFromContext(context.Background())
	assert.False(t, ok)

	ctx := pg.WithTx(context.Background(), nil)
	_, ok = pg.TxFromContext(ctx)
	assert.False(t, ok, "nil tx is not stored")

	var tx pgx.Tx = stubTx{}
	ctx = pg.WithTx(context.Background(), tx)
	got, ok := pg.TxFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, tx, got)
}

func TestQuerierFromContext(t *testing.T) {
	t.Parallel()

	fallback := stubTx{}
	assert.Equal(t, pg.Querier(fallback), pg.QuerierFromContext(context.Background(), fallback))

	tx := &stubTx{}
	ctx := pg.WithTx(context.Background(), tx)
	assert.Same(t, tx, pg.QuerierFromContext(ctx, fallback))
}

// stubTx satisfies pgx.Tx for context round trips only.
type stubTx struct{ pgx.Tx }
