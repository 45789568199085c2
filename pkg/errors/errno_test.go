package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	tests := []struct {
		module   int
		category int
		sequence int
		expected int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1001},
		{1, 10, 1, 110001},
		{25, 1, 1, 2501001},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.module, tt.category, tt.sequence), func(t *testing.T) {
			got := MakeCode(tt.module, tt.category, tt.sequence)
			assert.Equal(t, tt.expected, got)

			m, c, s := ParseCode(got)
			assert.Equal(t, []int{tt.module, tt.category, tt.sequence}, []int{m, c, s})
		})
	}
}

func TestErrno(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, ErrEngineUnavailable.HTTPStatus())
	assert.Equal(t, codes.Unavailable, ErrEngineUnavailable.GRPCStatus())
	assert.Equal(t, "引擎不可用", ErrEngineUnavailable.Message("zh-CN"))
	assert.Equal(t, "Engine unavailable", ErrEngineUnavailable.Message("en"))

	wrapped := ErrEngineUnavailable.WithCause(io.EOF)
	assert.ErrorIs(t, wrapped, ErrEngineUnavailable)
	assert.ErrorIs(t, wrapped, io.EOF)
	assert.Contains(t, wrapped.Error(), "EOF")

	e := &Errno{Code: 42}
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())
	assert.Equal(t, codes.Internal, e.GRPCStatus())
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	e := FromError(fmt.Errorf("dispatch: %w", ErrExecutorOverloaded))
	assert.Equal(t, ErrExecutorOverloaded.Code, e.Code)

	e = FromError(io.EOF)
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.ErrorIs(t, e, io.EOF)
}

func TestRegistry(t *testing.T) {
	got, ok := Lookup(ErrRouteNotFound.Code)
	require.True(t, ok)
	assert.Same(t, ErrRouteNotFound, got)

	_, err := NewBuilder(ModuleCommon, CategoryInternal, 0).Message("dup", "").Build()
	assert.Error(t, err)

	_, err = NewBuilder(ModuleControl, CategoryInternal, 999).Build()
	assert.Error(t, err)

	assert.Panics(t, func() {
		Register(&Errno{Code: ErrInternal.Code, MessageEN: "again"})
	})
}
