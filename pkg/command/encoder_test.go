package command

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/ugo-pro/pkg/telemetry"
)

func testLimits() Limits {
	return Limits{
		11: {Min: -180, Max: 180},
		12: {Min: -90, Max: 90},
	}
}

func TestEncodeBasic(t *testing.T) {
	enc := NewEncoder(testLimits())
	payload, err := enc.Encode(&Command{
		IDs:            []int{11, 12},
		TargetsDeg:     []float64{150.0, -73.0},
		Mode:           ModeAbsolute,
		IntervalEchoMS: 10,
		Sync:           []string{"1700000000000", "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cmd,abs,10\nid,11,12\ntar,1500,-730\nsync,1700000000000,0\n", string(payload))
}

func TestEncodeTenthsRounding(t *testing.T) {
	enc := NewEncoder(nil)
	payload, err := enc.Encode(&Command{
		IDs:        []int{11},
		TargetsDeg: []float64{10.07},
		Mode:       ModeAbsolute,
		Sync:       []string{"0"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "tar,101\n")
}

func TestEncodeReasonTag(t *testing.T) {
	enc := NewEncoder(testLimits())
	payload, err := enc.Encode(&Command{
		IDs:            []int{11, 12},
		TargetsDeg:     []float64{0, 0},
		Mode:           ModeHold,
		IntervalEchoMS: 10.4,
		Reason:         ReasonTelemetryTimeout,
		Sync:           []string{"0"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "cmd,hold,10,reason:telemetry_timeout\n")
}

func TestEncodeCeilingRows(t *testing.T) {
	enc := NewEncoder(testLimits())
	payload, err := enc.Encode(&Command{
		IDs:        []int{11, 12},
		TargetsDeg: []float64{10, 20},
		SpeedsRaw:  []int{512, 512},
		TorquesRaw: []int{1023, 900},
		Mode:       ModeAbsolute,
		Sync:       []string{"0"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "spd,512,512\n")
	assert.Contains(t, string(payload), "trq,1023,900\n")
}

func TestEncodeDefaultSync(t *testing.T) {
	enc := NewEncoder(nil)
	enc.now = func() time.Time { return time.UnixMilli(1234567890) }
	payload, err := enc.Encode(&Command{
		IDs:        []int{11},
		TargetsDeg: []float64{0},
		Mode:       ModeAbsolute,
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "sync,1234567890,0\n")
}

// The outbound tar row and the inbound agl row share the tenths-of-a-degree
// dialect: encoded targets fed back through the telemetry parser must
// recover the original degrees.
func TestEncodeParserRoundTrip(t *testing.T) {
	enc := NewEncoder(nil)
	want := map[int]float64{11: 150.0, 12: -73.0, 13: 12.3}
	payload, err := enc.Encode(&Command{
		IDs:        []int{11, 12, 13},
		TargetsDeg: []float64{want[11], want[12], want[13]},
		Mode:       ModeAbsolute,
		Sync:       []string{"0"},
	})
	require.NoError(t, err)

	var cycle strings.Builder
	cycle.WriteString("vsd,10,0,0\n")
	for _, line := range strings.Split(string(payload), "\n") {
		switch {
		case strings.HasPrefix(line, "id,"):
			cycle.WriteString(line + "\n")
		case strings.HasPrefix(line, "tar,"):
			cycle.WriteString("agl" + strings.TrimPrefix(line, "tar") + "\n")
		}
	}
	cycle.WriteString("vsd,10,0,0\n")

	p := telemetry.NewParser()
	frames := p.Feed([]byte(cycle.String()))
	require.Len(t, frames, 1)
	require.Equal(t, 0, frames[0].MissingFields)
	for id, deg := range want {
		assert.InDelta(t, deg, frames[0].Angles[id], 1e-9, "joint %d", id)
	}
}

func TestEncodeRejects(t *testing.T) {
	enc := NewEncoder(testLimits())

	cases := []struct {
		name string
		cmd  *Command
	}{
		{"no ids", &Command{Mode: ModeAbsolute}},
		{"target count mismatch", &Command{IDs: []int{11, 12}, TargetsDeg: []float64{1}, Mode: ModeAbsolute}},
		{"speed count mismatch", &Command{IDs: []int{11}, TargetsDeg: []float64{1}, SpeedsRaw: []int{512, 512}, Mode: ModeAbsolute}},
		{"nan target", &Command{IDs: []int{11}, TargetsDeg: []float64{math.NaN()}, Mode: ModeAbsolute}},
		{"outside limit", &Command{IDs: []int{12}, TargetsDeg: []float64{95}, Mode: ModeAbsolute}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := enc.Encode(tc.cmd)
			var encErr *EncodingError
			require.ErrorAs(t, err, &encErr)
		})
	}
}

func TestCommandClone(t *testing.T) {
	orig := &Command{
		IDs:        []int{11, 12},
		TargetsDeg: []float64{10, 20},
		SpeedsRaw:  []int{512, 512},
		Mode:       ModeAbsolute,
		Sync:       []string{"a", "b"},
	}
	cp := orig.Clone()
	cp.TargetsDeg[0] = 99
	cp.IDs[0] = 99
	cp.Sync[0] = "x"

	assert.Equal(t, 10.0, orig.TargetsDeg[0])
	assert.Equal(t, 11, orig.IDs[0])
	assert.Equal(t, "a", orig.Sync[0])

	var nilCmd *Command
	assert.Nil(t, nilCmd.Clone())
}

func TestCommandTarget(t *testing.T) {
	cmd := &Command{IDs: []int{11, 12}, TargetsDeg: []float64{10, 20}}
	v, ok := cmd.Target(12)
	assert.True(t, ok)
	assert.Equal(t, 20.0, v)
	_, ok = cmd.Target(99)
	assert.False(t, ok)
}

func TestLimitClampAndMid(t *testing.T) {
	l := Limit{Min: -90, Max: 30}
	assert.Equal(t, -90.0, l.Clamp(-120))
	assert.Equal(t, 30.0, l.Clamp(45))
	assert.Equal(t, 12.5, l.Clamp(12.5))
	assert.Equal(t, -30.0, l.Mid())
}
