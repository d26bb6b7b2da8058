package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedString(p *Parser, s string) []*Frame {
	return p.Feed([]byte(s))
}

func TestParserSingleCycle(t *testing.T) {
	p := NewParser()

	frames := feedString(p, "vsd,10,3,2\nid,11,12,13\nagl,1500,-730,0\nvel,5,0,-3\ncur,120,80,95\nonj_agl,1500,-730,0\n")
	require.Empty(t, frames, "cycle is open until the next vsd row")

	frames = feedString(p, "vsd,10,3,2\n")
	require.Len(t, frames, 1)
	f := frames[0]

	assert.Equal(t, []int{11, 12, 13}, f.JointIDs)
	assert.InDelta(t, 150.0, f.Angles[11], 1e-9)
	assert.InDelta(t, -73.0, f.Angles[12], 1e-9)
	assert.InDelta(t, 0.0, f.Angles[13], 1e-9)
	assert.Equal(t, map[int]int{11: 5, 12: 0, 13: -3}, f.Velocities)
	assert.Equal(t, map[int]int{11: 120, 12: 80, 13: 95}, f.Currents)
	assert.InDelta(t, 150.0, f.TargetsEcho[11], 1e-9)
	assert.InDelta(t, 10.0, f.CycleIntervalMS, 1e-9)
	assert.InDelta(t, 3.0, f.ReadLatencyMS, 1e-9)
	assert.InDelta(t, 2.0, f.WriteLatencyMS, 1e-9)
	assert.Equal(t, 0, f.MissingFields)
	assert.Equal(t, HealthOk, f.Health)
	assert.False(t, f.ReceivedAt.IsZero())
}

func TestParserTaggedCycleMeta(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd, , ver:251008, interval:44[ms], read:31[ms], write:12[ms], mode:bilateral(1)\n")
	feedString(p, "id, 11, 12\n")
	feedString(p, "agl, 100, 200\n")
	frames := feedString(p, "vsd, , ver:251008, interval:44[ms], read:31[ms], write:12[ms], mode:bilateral(1)\n")

	require.Len(t, frames, 1)
	f := frames[0]
	assert.InDelta(t, 44.0, f.CycleIntervalMS, 1e-9)
	assert.InDelta(t, 31.0, f.ReadLatencyMS, 1e-9)
	assert.InDelta(t, 12.0, f.WriteLatencyMS, 1e-9)
	assert.InDelta(t, 10.0, f.Angles[11], 1e-9)
	assert.InDelta(t, 20.0, f.Angles[12], 1e-9)
}

// Frames must come out identical no matter where the byte stream is cut
// into datagrams.
func TestParserFragmentationIdempotence(t *testing.T) {
	stream := "vsd,10,3,2\nid,11,12,13\nagl,1500,-730,0\nvel,5,0,-3\ncur,120,80,95\n" +
		"vsd,11,4,2\nagl,1510,-725,5\nvel,6,1,-2\ncur,121,81,96\n" +
		"vsd,10,3,2\nagl,1520,-720,10\n" +
		"vsd,10,3,2\n"

	whole := NewParser()
	want := feedString(whole, stream)
	require.Len(t, want, 3)

	for split := 1; split < len(stream)-1; split++ {
		p := NewParser()
		var got []*Frame
		got = append(got, feedString(p, stream[:split])...)
		got = append(got, feedString(p, stream[split:])...)

		require.Len(t, got, len(want), "split at %d", split)
		for i := range want {
			assert.Equal(t, want[i].JointIDs, got[i].JointIDs, "split at %d", split)
			assert.Equal(t, want[i].Angles, got[i].Angles, "split at %d", split)
			assert.Equal(t, want[i].Velocities, got[i].Velocities, "split at %d", split)
			assert.Equal(t, want[i].Currents, got[i].Currents, "split at %d", split)
			assert.Equal(t, want[i].MissingFields, got[i].MissingFields, "split at %d", split)
		}
	}
}

func TestParserBlankAndMalformedCells(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\nid,11,12,13\nagl,1500,,zzz\n")
	frames := feedString(p, "vsd,10,3,2\n")

	require.Len(t, frames, 1)
	f := frames[0]
	assert.InDelta(t, 150.0, f.Angles[11], 1e-9)
	assert.True(t, math.IsNaN(f.Angles[12]))
	assert.True(t, math.IsNaN(f.Angles[13]))
	assert.Equal(t, 2, f.MissingFields)
	assert.Equal(t, HealthPartial, f.Health)

	// Every declared joint is present as a key even when its cell degraded.
	assert.Len(t, f.Angles, 3)
}

func TestParserRowLengthMismatch(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\nid,11,12,13\nagl,1500,-730\n")
	frames := feedString(p, "vsd,10,3,2\n")

	require.Len(t, frames, 1)
	f := frames[0]
	assert.InDelta(t, 150.0, f.Angles[11], 1e-9)
	assert.True(t, math.IsNaN(f.Angles[13]))
	assert.Equal(t, 1, f.MissingFields) // the shortfall counts once
	assert.Equal(t, HealthPartial, f.Health)
}

func TestParserMissingAngleRow(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\nid,11,12\nvel,5,0\n")
	frames := feedString(p, "vsd,10,3,2\n")

	require.Len(t, frames, 1)
	f := frames[0]
	assert.True(t, math.IsNaN(f.Angles[11]))
	assert.True(t, math.IsNaN(f.Angles[12]))
	assert.Equal(t, HealthPartial, f.Health)
	assert.Positive(t, f.MissingFields)
}

func TestParserObjAlias(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\nid,11,12\nagl,100,200\nobj,110,210\n")
	frames := feedString(p, "vsd,10,3,2\n")

	require.Len(t, frames, 1)
	assert.InDelta(t, 11.0, frames[0].TargetsEcho[11], 1e-9)
	assert.InDelta(t, 21.0, frames[0].TargetsEcho[12], 1e-9)
}

func TestParserWithholdsUntilIDsKnown(t *testing.T) {
	p := NewParser()
	frames := feedString(p, "vsd,10,3,2\nagl,1500,-730\nvsd,10,3,2\nagl,1500,-730\n")
	assert.Empty(t, frames)
	assert.Nil(t, p.IDs())

	// Once the ordering arrives, subsequent cycles decode normally.
	frames = feedString(p, "id,11,12\nagl,1500,-730\nvsd,10,3,2\n")
	require.Len(t, frames, 1)
	assert.Equal(t, []int{11, 12}, p.IDs())
	assert.InDelta(t, 150.0, frames[0].Angles[11], 1e-9)
}

func TestParserLastIDDeclarationWins(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\nid,11,12\nid,21,22\nagl,100,200\n")
	frames := feedString(p, "vsd,10,3,2\n")

	require.Len(t, frames, 1)
	assert.Equal(t, []int{21, 22}, frames[0].JointIDs)
	assert.InDelta(t, 10.0, frames[0].Angles[21], 1e-9)
	_, has := frames[0].Angles[11]
	assert.False(t, has)
}

func TestParserOrderingPersistsAcrossCycles(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\nid,11,12\nagl,100,200\nvsd,10,3,2\nagl,110,210\n")
	frames := feedString(p, "vsd,10,3,2\n")

	require.Len(t, frames, 1)
	assert.Equal(t, []int{11, 12}, frames[0].JointIDs)
	assert.InDelta(t, 11.0, frames[0].Angles[11], 1e-9)
}

func TestParserFlush(t *testing.T) {
	p := NewParser()
	frames := feedString(p, "vsd,10,3,2\nid,11,12\nagl,100,200")
	require.Empty(t, frames)

	f := p.Flush()
	require.NotNil(t, f)
	assert.InDelta(t, 10.0, f.Angles[11], 1e-9)

	assert.Nil(t, p.Flush(), "flush with no open cycle yields nothing")
}

func TestParserCRLFAndPadding(t *testing.T) {
	p := NewParser()
	feedString(p, "vsd,10,3,2\r\nid, 11 , 12\r\nagl, 100 , 200 \r\n")
	frames := feedString(p, "vsd,10,3,2\r\n")

	require.Len(t, frames, 1)
	assert.Equal(t, []int{11, 12}, frames[0].JointIDs)
	assert.InDelta(t, 10.0, frames[0].Angles[11], 1e-9)
	assert.Equal(t, 0, frames[0].MissingFields)
}
