package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRail(t *testing.T) {
	for _, r := range Rails() {
		got, err := ParseRail(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseRail("DOGE")
	require.Error(t, err)
	_, err = ParseRail("icp")
	require.Error(t, err)
}

func TestRailEnabled(t *testing.T) {
	cfg := OrgConfig{Rails: map[Rail]RailConfig{
		RailICP:   {Enabled: true},
		RailCkBTC: {Enabled: false},
	}}

	assert.True(t, cfg.RailEnabled(RailICP))
	assert.False(t, cfg.RailEnabled(RailCkBTC))
	assert.False(t, cfg.RailEnabled(RailCkETH))
}
