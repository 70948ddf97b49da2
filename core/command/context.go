package command

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
)

type deliveryScopeCtx struct{}

// sequence is a monotonically increasing counter owned by one parent
// identity.
type sequence struct {
	mu sync.Mutex
	n  uint64
}

func (s *sequence) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// deliveryScope is one established delivery context. A scope either has a
// parent scope (nested) or is a root, in which case its synthetic root parent
// carries the scope's own token.
type deliveryScope struct {
	token  string
	parent *deliveryScope

	// root is the counter of the synthetic root parent; nil for nested scopes.
	root *sequence
	// children is shared by all scopes nested directly under this one.
	children sequence
}

func (s *deliveryScope) parentToken() string {
	if s.parent == nil {
		return s.token
	}
	return s.parent.token
}

func (s *deliveryScope) counter() *sequence {
	if s.parent == nil {
		return s.root
	}
	return &s.parent.children
}

// EstablishDeliveryContext opens a delivery context for the delivery with the
// given idempotency token. The context enclosing it in ctx, if any, becomes its
// parent.
func EstablishDeliveryContext(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		return ctx, ErrEmptyIdempotencyToken
	}

	scope := &deliveryScope{token: token}
	if parent, ok := ctx.Value(deliveryScopeCtx{}).(*deliveryScope); ok {
		scope.parent = parent
	} else {
		scope.root = &sequence{}
	}

	return context.WithValue(ctx, deliveryScopeCtx{}, scope), nil
}

// NextToken derives the next idempotency token for source within the current
// delivery context:
//
//	base64(sha256("{parent token}:{source} ({sequence})"))
//
// The sequence increases per parent identity, so repeated calls never repeat
// and re-establishing the same outer context reproduces the same tokens. It
// returns false when ctx carries no delivery context.
//
// A root context and the contexts nested directly in it hash the same parent
// token with separate sequences. The first token derived in the root and the
// first token derived in a nested context for the same source are equal, and
// a bus deduplicating on tokens keeps only one of the two deliveries. Use a
// distinct source, or an explicit token, when both levels schedule the same
// command type.
func NextToken(ctx context.Context, source string) (string, bool) {
	scope, ok := ctx.Value(deliveryScopeCtx{}).(*deliveryScope)
	if !ok {
		return "", false
	}

	seq := scope.counter().next()
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s (%d)", scope.parentToken(), source, seq))
	return base64.StdEncoding.EncodeToString(sum[:]), true
}

// DeliveryToken returns the idempotency token of the current delivery
// context, or an empty string when there is none.
func DeliveryToken(ctx context.Context) string {
	if scope, ok := ctx.Value(deliveryScopeCtx{}).(*deliveryScope); ok {
		return scope.token
	}
	return ""
}
