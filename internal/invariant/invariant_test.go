package invariant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_GuaranteePanicsWithViolation(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		v, ok := r.(*Violation)
		require.True(t, ok, "panic value should be *Violation, got %T", r)
		require.Equal(t, "invariant violated: count 3 != 4", v.Error())
	}()
	Guarantee(false, "count %d != %d", 3, 4)
}

func Test_AssertFollowsBuildMode(t *testing.T) {
	if !Enabled {
		require.NotPanics(t, func() { Assert(false, "ignored") })
		return
	}
	require.Panics(t, func() { Assert(false, "boom") })
	require.NotPanics(t, func() { Assert(true, "fine") })
}
