package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorChain(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Database("append failed", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindDatabase, KindOf(err))
}

func TestIsMatchesByKind(t *testing.T) {
	err := NotFound("memory", "0199-dead-beef")
	assert.True(t, stderrors.Is(err, New(KindNotFound, "")))
	assert.False(t, stderrors.Is(err, New(KindDatabase, "")))
}

func TestAmbiguousPrefixCarriesCount(t *testing.T) {
	err := AmbiguousPrefix("0199ab", 3)
	assert.Equal(t, "0199ab", err.Prefix)
	assert.Equal(t, 3, err.Count)
	assert.Equal(t, CodeAmbiguousPrefix, RPCCode(err))
}

func TestRPCCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{Validation("query", "query is required"), CodeInvalidParams},
		{NotFound("chunk", "x"), CodeNotFound},
		{AmbiguousPrefix("abc123", 2), CodeAmbiguousPrefix},
		{Provider("embedder offline", nil), CodeEmbeddingUnavailable},
		{New(KindRateLimited, "wait budget exceeded"), CodeEmbeddingUnavailable},
		{Database("corrupt", fmt.Errorf("x")), CodeServerError},
		{Internal("invariant", nil), CodeServerError},
		{fmt.Errorf("plain"), CodeServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, RPCCode(tt.err), tt.err.Error())
	}
}

func TestRPCMessagePrefixes(t *testing.T) {
	assert.Contains(t, RPCMessage(Database("bad", fmt.Errorf("x"))), "Database: ")
	assert.Contains(t, RPCMessage(New(KindCoordination, "lock held")), "Project: ")
	assert.Contains(t, RPCMessage(Internal("oops", nil)), "Execution: ")
}

func TestRetryableFlags(t *testing.T) {
	assert.True(t, IsRetryable(Provider("timeout", nil)))
	assert.True(t, IsRetryable(New(KindRateLimited, "")))
	assert.False(t, IsRetryable(Validation("f", "bad")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindDatabase, "x", nil))
}
