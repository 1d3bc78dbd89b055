package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestFromMapOverridesDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"max_packet_size": 4096,
		"keepalive":       false,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.MaxPacketSize)
	assert.False(t, cfg.Keepalive)
	// untouched fields still carry the default
	assert.EqualValues(t, Default().MaxReceiveRate, cfg.MaxReceiveRate)
}

func TestValidateRejectsZeroRate(t *testing.T) {
	cfg := Default()
	cfg.MaxSendRate = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizePacket(t *testing.T) {
	cfg := Default()
	cfg.MaxPacketSize = MaxPacketSize + 1
	assert.Error(t, cfg.Validate())
}

func TestRoundUpFrag(t *testing.T) {
	cases := []struct{ in, want uint32 }{
		{0, 0},
		{1, MaxFragmentSize},
		{MaxFragmentSize, MaxFragmentSize},
		{MaxFragmentSize + 1, 2 * MaxFragmentSize},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RoundUpFrag(c.in))
	}
}
