package numa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ParseNodeList(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0\n", 1, true},
		{"0-3", 4, true},
		{"0,2-3", 3, true},
		{"0-1,4-7\n", 6, true},
		{"", 0, false},
		{"a-b", 0, false},
		{"3-1", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNodeList(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_StaticDefaults(t *testing.T) {
	var s Static
	require.False(t, s.Enabled())
	require.Equal(t, 1, s.ActiveNodes())
	require.Equal(t, searchDepthPerNode, s.MaxSearchDepth())

	s = Static{Nodes: 4, SearchDepth: 2}
	require.True(t, s.Enabled())
	require.Equal(t, 2, s.MaxSearchDepth())
}

func Test_DetectIsUsable(t *testing.T) {
	s := Detect()
	require.GreaterOrEqual(t, s.ActiveNodes(), 1)
	require.GreaterOrEqual(t, UsableCPUs(), 1)
}
