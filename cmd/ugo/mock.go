package main

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// MockControllerCommand emulates the robot's control box: it waits for any
// inbound datagram, then streams CSV telemetry cycles to that sender and
// echoes back the targets it receives. Lets the rest of the stack be
// exercised without robot hardware.
type MockControllerCommand struct {
	Listen     string  `long:"listen" default:"0.0.0.0:8888" description:"Local host:port for the command socket"`
	IntervalMS int     `long:"interval" default:"10" description:"Telemetry cycle interval in milliseconds"`
	Joints     string  `long:"joints" default:"21,22,23,24,25,26,27,11,12,13,14,15,16,17" description:"Comma-separated joint IDs, wire order"`
	BlankRate  float64 `long:"blank-rate" default:"0" description:"Probability of emitting a blank telemetry cell"`
}

type mockState struct {
	mu      sync.Mutex
	client  *net.UDPAddr
	targets map[int]float64 // last tar row received, in degrees
}

func (c *MockControllerCommand) Execute(args []string) error {
	ids, err := parseJointList(c.Joints)
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", c.Listen)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("mock controller listening on %s, waiting for a trigger packet", conn.LocalAddr())

	state := &mockState{targets: make(map[int]float64)}
	go c.readLoop(conn, state)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(c.IntervalMS) * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-sig:
			log.Print("mock controller stopping")
			return nil
		case <-ticker.C:
			state.mu.Lock()
			client := state.client
			targets := make(map[int]float64, len(state.targets))
			for k, v := range state.targets {
				targets[k] = v
			}
			state.mu.Unlock()
			if client == nil {
				continue
			}
			payload := c.buildCycle(ids, targets, time.Since(start))
			if _, err := conn.WriteToUDP(payload, client); err != nil {
				log.Printf("telemetry send failed: %v", err)
			}
		}
	}
}

// readLoop learns the client address from any inbound datagram and keeps
// the last commanded targets for the echo row.
func (c *MockControllerCommand) readLoop(conn *net.UDPConn, state *mockState) {
	buf := make([]byte, 65535)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		state.mu.Lock()
		if state.client == nil {
			log.Printf("client connected from %s", from)
		}
		state.client = from
		applyCommand(string(buf[:n]), state.targets)
		state.mu.Unlock()
	}
}

// applyCommand picks the id and tar rows out of a command packet.
func applyCommand(packet string, targets map[int]float64) {
	var ids []int
	var tar []string
	for _, line := range strings.Split(packet, "\n") {
		cells := strings.Split(strings.TrimSpace(line), ",")
		switch strings.TrimSpace(cells[0]) {
		case "id":
			ids = ids[:0]
			for _, c := range cells[1:] {
				if v, err := strconv.Atoi(strings.TrimSpace(c)); err == nil {
					ids = append(ids, v)
				}
			}
		case "tar":
			tar = cells[1:]
		}
	}
	for i, id := range ids {
		if i >= len(tar) {
			break
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(tar[i]), 64); err == nil {
			targets[id] = v / 10
		}
	}
}

// buildCycle emits one telemetry cycle: slow sinusoids for angles, sparse
// velocities, noisy currents and the target echo.
func (c *MockControllerCommand) buildCycle(ids []int, targets map[int]float64, elapsed time.Duration) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vsd, , ver:251008, interval:%d[ms], read:%d[ms], write:%d[ms], mode:bilateral(1)\n",
		c.IntervalMS, 3+rand.Intn(3), 1+rand.Intn(2))

	sb.WriteString("id")
	for _, id := range ids {
		fmt.Fprintf(&sb, ",%d", id)
	}
	sb.WriteByte('\n')

	t := elapsed.Seconds()
	sb.WriteString("agl")
	for i := range ids {
		if c.blank() {
			sb.WriteString(", ")
			continue
		}
		deg := 30 * math.Sin(2*math.Pi*0.1*t+float64(i))
		fmt.Fprintf(&sb, ",%d", int(math.Round(deg*10)))
	}
	sb.WriteByte('\n')

	sb.WriteString("vel")
	for range ids {
		if c.blank() {
			sb.WriteString(", ")
			continue
		}
		fmt.Fprintf(&sb, ",%d", rand.Intn(21)-10)
	}
	sb.WriteByte('\n')

	sb.WriteString("cur")
	for range ids {
		if c.blank() {
			sb.WriteString(", ")
			continue
		}
		fmt.Fprintf(&sb, ",%d", 80+rand.Intn(60))
	}
	sb.WriteByte('\n')

	if len(targets) > 0 {
		sb.WriteString("onj_agl")
		for _, id := range ids {
			if v, ok := targets[id]; ok {
				fmt.Fprintf(&sb, ",%d", int(math.Round(v*10)))
			} else {
				sb.WriteString(", ")
			}
		}
		sb.WriteByte('\n')
	}

	return []byte(sb.String())
}

func (c *MockControllerCommand) blank() bool {
	return c.BlankRate > 0 && rand.Float64() < c.BlankRate
}

func parseJointList(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad joint id %q", part)
		}
		ids = append(ids, v)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no joint ids given")
	}
	return ids, nil
}
