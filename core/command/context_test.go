package command_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/command"
)

func expectedToken(parent, source string, seq int) string {
	sum := sha256.Sum256([]byte(parent + ":" + source + " (" + strconv.Itoa(seq) + ")"))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestEstablishDeliveryContext(t *testing.T) {
	t.Parallel()

	_, err := command.EstablishDeliveryContext(context.Background(), "")
	assert.ErrorIs(t, err, command.ErrEmptyIdempotencyToken)

	ctx, err := command.EstablishDeliveryContext(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, "root", command.DeliveryToken(ctx))
	assert.Empty(t, command.DeliveryToken(context.Background()))

	_, ok := command.NextToken(context.Background(), "src")
	assert.False(t, ok)
}

func TestNextToken(t *testing.T) {
	t.Parallel()

	t.Run("hash format", func(t *testing.T) {
		t.Parallel()
		ctx, err := command.EstablishDeliveryContext(context.Background(), "root")
		require.NoError(t, err)

		first, ok := command.NextToken(ctx, "src")
		require.True(t, ok)
		second, _ := command.NextToken(ctx, "src")

		assert.Equal(t, expectedToken("root", "src", 1), first)
		assert.Equal(t, expectedToken("root", "src", 2), second)
	})

	t.Run("100 distinct and reproducible", func(t *testing.T) {
		t.Parallel()
		sequence := func() []string {
			ctx, err := command.EstablishDeliveryContext(context.Background(), "root-token")
			require.NoError(t, err)
			out := make([]string, 0, 100)
			for range 100 {
				tok, ok := command.NextToken(ctx, "same-source")
				require.True(t, ok)
				out = append(out, tok)
			}
			return out
		}

		first := sequence()
		seen := make(map[string]struct{}, len(first))
		for _, tok := range first {
			seen[tok] = struct{}{}
		}
		assert.Len(t, seen, 100)
		assert.Equal(t, first, sequence())
	})

	t.Run("nested scope does not consume outer sequence", func(t *testing.T) {
		t.Parallel()
		outer, err := command.EstablishDeliveryContext(context.Background(), "outer")
		require.NoError(t, err)

		a, _ := command.NextToken(outer, "src")

		inner, err := command.EstablishDeliveryContext(outer, "inner")
		require.NoError(t, err)
		for range 5 {
			_, _ = command.NextToken(inner, "src")
		}

		b, _ := command.NextToken(outer, "src")
		assert.Equal(t, expectedToken("outer", "src", 1), a)
		assert.Equal(t, expectedToken("outer", "src", 2), b)
	})

	t.Run("nested scopes derive from parent token", func(t *testing.T) {
		t.Parallel()
		outer, err := command.EstablishDeliveryContext(context.Background(), "outer")
		require.NoError(t, err)

		first, err := command.EstablishDeliveryContext(outer, "child-1")
		require.NoError(t, err)
		second, err := command.EstablishDeliveryContext(outer, "child-2")
		require.NoError(t, err)

		x, _ := command.NextToken(first, "src")
		y, _ := command.NextToken(second, "src")

		assert.Equal(t, expectedToken("outer", "src", 1), x)
		assert.Equal(t, expectedToken("outer", "src", 2), y)
		assert.Equal(t, "child-2", command.DeliveryToken(second))
	})

	t.Run("root and nested scope collide on first token", func(t *testing.T) {
		t.Parallel()
		outer, err := command.EstablishDeliveryContext(context.Background(), "X")
		require.NoError(t, err)
		fromOuter, _ := command.NextToken(outer, "src")

		inner, err := command.EstablishDeliveryContext(outer, "Y")
		require.NoError(t, err)
		fromInner, _ := command.NextToken(inner, "src")
		otherSource, _ := command.NextToken(inner, "other")

		assert.Equal(t, fromOuter, fromInner)
		assert.Equal(t, expectedToken("X", "src", 1), fromInner)
		assert.NotEqual(t, fromOuter, otherSource)
	})

	t.Run("concurrent calls never repeat", func(t *testing.T) {
		t.Parallel()
		ctx, err := command.EstablishDeliveryContext(context.Background(), "root")
		require.NoError(t, err)

		results := make(chan string, 200)
		done := make(chan struct{})
		for range 4 {
			go func() {
				for range 50 {
					tok, _ := command.NextToken(ctx, "src")
					results <- tok
				}
				done <- struct{}{}
			}()
		}
		for range 4 {
			<-done
		}
		close(results)

		seen := make(map[string]struct{})
		for tok := range results {
			seen[tok] = struct{}{}
		}
		assert.Len(t, seen, 200)
	})
}
