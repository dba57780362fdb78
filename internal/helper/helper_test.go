package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormTF(t *testing.T) {
	assert.Equal(t, "1h", NormTF("candle1H"))
	assert.Equal(t, "1h", NormTF("60m"))
	assert.Equal(t, "15m", NormTF(" 15M "))
	assert.Equal(t, "1d", NormTF("1D"))
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, TimeframeDuration("15m"))
	assert.Equal(t, 4*time.Hour, TimeframeDuration("4H"))
	assert.Equal(t, time.Duration(0), TimeframeDuration("7m"))
	assert.False(t, ValidTimeframe("bogus"))
}

func TestOKXBar(t *testing.T) {
	bar, err := OKXBar("1h")
	require.NoError(t, err)
	assert.Equal(t, "1H", bar)

	bar, err = OKXBar("5m")
	require.NoError(t, err)
	assert.Equal(t, "5m", bar)

	_, err = OKXBar("7m")
	require.Error(t, err)
}

func TestFloorAndBucket(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), FloorTime(ts, 5*time.Minute))
	assert.Equal(t, ts, FloorTime(ts, 0))

	a := BucketIndex(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 5*time.Minute)
	b := BucketIndex(time.Date(2024, 1, 1, 10, 4, 59, 0, time.UTC), 5*time.Minute)
	c := BucketIndex(time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), 5*time.Minute)
	assert.Equal(t, a, b)
	assert.Equal(t, a+1, c)
	assert.Equal(t, int64(0), BucketIndex(ts, 0))
}

func TestRoundDownToStep(t *testing.T) {
	assert.InDelta(t, 0.123, RoundDownToStep(0.12345, 0.001), 1e-12)
	assert.Equal(t, 1.5, RoundDownToStep(1.5, 0))
}
