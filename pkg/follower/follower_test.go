package follower

import (
	"context"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/ugo-pro/pkg/command"
)

func testFollowerConfig(controllerAddr string) *Config {
	return &Config{
		TelemetryAddr:  "127.0.0.1:0",
		ControllerAddr: controllerAddr,
		LeftArmIDs:     []int{21, 22},
		RightArmIDs:    []int{11, 12},
		Limits: command.Limits{
			21: {Min: -180, Max: 180},
			22: {Min: -90, Max: 90},
			11: {Min: 0, Max: 100},
			12: {Min: -180, Max: 180},
		},
		TimeoutSec:        0.2,
		CommandIntervalMS: 0.1,
	}
}

func newConnectedFollower(t *testing.T) (*Follower, chan string) {
	t.Helper()
	sink, packets := supervisorSink(t)
	f, err := NewFollower(testFollowerConfig(sink.LocalAddr().String()), nil)
	require.NoError(t, err)
	require.NoError(t, f.Connect(context.Background()))
	t.Cleanup(func() { f.Disconnect() })
	return f, packets
}

// feedTelemetry sends one complete telemetry cycle to the follower's
// inbound socket and waits for the supervisor to see it.
func feedTelemetry(t *testing.T, f *Follower, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", f.recv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		_, err := conn.Write([]byte(payload))
		require.NoError(t, err)
		return f.Mode() == StateStreaming
	}, 2*time.Second, 10*time.Millisecond)
}

func streamOneFrame(t *testing.T, f *Follower) {
	feedTelemetry(t, f, "vsd,10,3,2\nid,21,22,11,12\nagl,100,200,300,400\nvsd,10,3,2\n")
}

func TestNewFollowerRejectsInvalidConfig(t *testing.T) {
	cfg := testFollowerConfig("127.0.0.1:8888")
	cfg.TimeoutSec = 0
	_, err := NewFollower(cfg, nil)
	assert.Error(t, err)
}

func TestSendActionNotConnected(t *testing.T) {
	f, err := NewFollower(testFollowerConfig("127.0.0.1:8888"), nil)
	require.NoError(t, err)
	_, err = f.SendAction(context.Background(), Request{TargetsDeg: map[int]float64{21: 10}})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendActionUnknownJoint(t *testing.T) {
	f, _ := newConnectedFollower(t)
	streamOneFrame(t, f)

	_, err := f.SendAction(context.Background(), Request{TargetsDeg: map[int]float64{99: 10}})
	var uj *UnknownJointError
	require.ErrorAs(t, err, &uj)
	assert.Equal(t, 99, uj.JointID)

	_, err = f.SendAction(context.Background(), Request{SpeedsRaw: map[int]int{99: 512}})
	assert.ErrorAs(t, err, &uj)
}

func TestSendActionFillsAndClamps(t *testing.T) {
	f, packets := newConnectedFollower(t)
	streamOneFrame(t, f)
	ctx := context.Background()

	// First command: one explicit target, the rest default to midpoints.
	res, err := f.SendAction(ctx, Request{TargetsDeg: map[int]float64{21: 30}})
	require.NoError(t, err)
	assert.Equal(t, command.ModeAbsolute, res.Mode)
	assert.Equal(t, map[int]float64{21: 30, 22: 0, 11: 50, 12: 0}, res.TargetsDeg)
	assert.Empty(t, res.Clamped)

	time.Sleep(time.Millisecond)

	// Second command: out-of-range target is clamped, joint 21 keeps its
	// last transmitted value.
	res, err = f.SendAction(ctx, Request{TargetsDeg: map[int]float64{22: 500}})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{21: 30, 22: 90, 11: 50, 12: 0}, res.TargetsDeg)
	require.Len(t, res.Clamped, 1)
	assert.Equal(t, ClampEvent{JointID: 22, Requested: 500, Applied: 90}, res.Clamped[0])

	deadline := time.After(2 * time.Second)
	for {
		select {
		case pkt := <-packets:
			if strings.Contains(pkt, "tar,300,900,500,0\n") {
				assert.Contains(t, pkt, "cmd,abs,10\n")
				assert.Contains(t, pkt, "id,21,22,11,12\n")
				return
			}
		case <-deadline:
			t.Fatal("resolved command never reached the controller")
		}
	}
}

func TestSendActionCeilingRows(t *testing.T) {
	f, packets := newConnectedFollower(t)
	f.cfg.VelocityLimitRaw = 512
	f.cfg.TorqueLimitRaw = 1023
	streamOneFrame(t, f)

	_, err := f.SendAction(context.Background(), Request{
		TargetsDeg: map[int]float64{21: 10},
		SpeedsRaw:  map[int]int{21: 100},
	})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case pkt := <-packets:
			if strings.Contains(pkt, "spd,") {
				assert.Contains(t, pkt, "spd,100,512,512,512\n")
				assert.Contains(t, pkt, "trq,1023,1023,1023,1023\n")
				return
			}
		case <-deadline:
			t.Fatal("ceiling rows never reached the controller")
		}
	}
}

func TestSendActionHoldOverride(t *testing.T) {
	f, packets := newConnectedFollower(t)
	// No telemetry: the supervisor never leaves the stale regime.
	require.True(t, f.sup.Holding())

	res, err := f.SendAction(context.Background(), Request{TargetsDeg: map[int]float64{21: 45}})
	require.NoError(t, err)
	assert.Equal(t, command.ModeHold, res.Mode)
	// The hold freezes at the neutral pose, not the requested target.
	assert.Equal(t, map[int]float64{21: 0, 22: 0, 11: 50, 12: 0}, res.TargetsDeg)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case pkt := <-packets:
			if strings.HasPrefix(pkt, "cmd,hold") {
				assert.Contains(t, pkt, "reason:telemetry_timeout")
				return
			}
		case <-deadline:
			t.Fatal("hold packet never reached the controller")
		}
	}
}

func TestSendActionHistory(t *testing.T) {
	f, _ := newConnectedFollower(t)
	f.cfg.CommandHistorySize = 3
	streamOneFrame(t, f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.SendAction(ctx, Request{TargetsDeg: map[int]float64{21: float64(i)}})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	hist := f.History()
	require.Len(t, hist, 3)
	v, ok := hist[2].Command.Target(21)
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
	v, _ = hist[0].Command.Target(21)
	assert.Equal(t, 2.0, v)
}

func TestObservation(t *testing.T) {
	f, _ := newConnectedFollower(t)

	obs := f.Observation()
	assert.True(t, math.IsNaN(obs["joint_21.pos_deg"].(float64)))
	assert.Equal(t, "unknown_joints", obs["status.health"])

	streamOneFrame(t, f)
	obs = f.Observation()
	assert.InDelta(t, 10.0, obs["joint_21.pos_deg"].(float64), 1e-9)
	assert.InDelta(t, 40.0, obs["joint_12.pos_deg"].(float64), 1e-9)
	assert.Equal(t, "ok", obs["status.health"])
	assert.InDelta(t, 10.0, obs["vsd_interval_ms"].(float64), 1e-9)
	assert.Less(t, obs["packet_age_ms"].(float64), 2000.0)
}

func TestConnectTwice(t *testing.T) {
	f, _ := newConnectedFollower(t)
	assert.Error(t, f.Connect(context.Background()))
}

func TestDisconnectIdempotent(t *testing.T) {
	f, _ := newConnectedFollower(t)
	require.NoError(t, f.Disconnect())
	assert.NoError(t, f.Disconnect())
}

func TestTelemetryAgeBeforeFrames(t *testing.T) {
	f, err := NewFollower(testFollowerConfig("127.0.0.1:8888"), nil)
	require.NoError(t, err)
	_, ok := f.Snapshot()
	assert.False(t, ok)
	assert.NotZero(t, f.TelemetryAge())
}
