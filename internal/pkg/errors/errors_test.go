package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindHelpers(t *testing.T) {
	err := Invalidf("unknown status %q", "bogus")
	require.True(t, IsInvalid(err))
	require.False(t, IsNotFound(err))
	require.Equal(t, `unknown status "bogus": invalid`, err.Error())

	wrapped := fmt.Errorf("load source: %w", NotFoundf("source %s", "s1"))
	require.True(t, IsNotFound(wrapped))
	require.False(t, IsConflict(wrapped))
}
