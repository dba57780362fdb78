package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trade_supervisor/internal/models"
)

func TestRealizedPnL(t *testing.T) {
	short := models.Position{Side: "short", Size: -20, UnrealizedPnL: -8}

	cases := []struct {
		name   string
		after  []models.Position
		pnl    string
		closed bool
	}{
		{"fully closed", nil, "-8", true},
		{"half closed", []models.Position{{Side: "short", Size: -10}}, "-4", true},
		{"other side only", []models.Position{{Side: "long", Size: 3}}, "-8", true},
		{"unchanged", []models.Position{{Side: "short", Size: -20}}, "0", false},
		{"increased", []models.Position{{Side: "short", Size: -25}}, "0", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pnl, closed := realizedPnL(short, tc.after)
			assert.Equal(t, tc.closed, closed)
			assert.Equal(t, tc.pnl, pnl.String())
		})
	}
}

func TestOpposite(t *testing.T) {
	positions := []models.Position{
		{Side: "long", Size: 2},
		{Side: "short", Size: 0},
	}

	p, ok := opposite(positions, models.SideSell)
	assert.True(t, ok)
	assert.Equal(t, "long", p.Side)

	_, ok = opposite(positions, models.SideBuy)
	assert.False(t, ok, "flat short is ignored")
}
