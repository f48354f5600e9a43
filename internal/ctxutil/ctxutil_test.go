package ctxutil_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/sendas-app/recorridos/internal/auth"
	"github.com/sendas-app/recorridos/internal/ctxutil"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	assert.Empty(t, ctxutil.UserIDFromContext(ctx))

	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ana"}}
	ctx = ctxutil.WithClaims(ctx, claims)
	assert.Same(t, claims, ctxutil.ClaimsFromContext(ctx))
	assert.Equal(t, "ana", ctxutil.UserIDFromContext(ctx))
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ctxutil.RequestIDFromContext(ctx))
	assert.Equal(t, "req-9", ctxutil.RequestIDFromContext(ctxutil.WithRequestID(ctx, "req-9")))
}
