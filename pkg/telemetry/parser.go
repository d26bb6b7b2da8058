package telemetry

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Row kinds understood by the parser. The controller emits one vsd row per
// ~10ms cycle, followed by an id declaration and value rows.
const (
	rowCycle    = "vsd"
	rowIDs      = "id"
	rowAngles   = "agl"
	rowVel      = "vel"
	rowCurrent  = "cur"
	rowTargets  = "onj_agl"
	rowTargets2 = "obj" // emitted by some firmware versions
)

// Parser reconstructs telemetry frames from raw UDP payloads. A payload may
// contain several complete lines, a partial trailing line, or the
// continuation of a line begun in an earlier payload; Parser carries the
// partial line across Feed calls so frames come out identical regardless of
// how the byte stream was fragmented.
//
// A cycle is delimited by successive vsd rows. Value rows are zipped against
// the most recently declared id row; a duplicate id declaration within one
// cycle overwrites the active ordering (last one wins). Malformed cells and
// length-mismatched rows degrade the frame's MissingFields and Health but
// never abort the cycle.
//
// Parser is not safe for concurrent Feed calls; it belongs to a single
// receive loop.
type Parser struct {
	carry []byte
	now   func() time.Time

	inCycle bool
	meta    cycleMeta
	rows    map[string][]string

	mu  sync.Mutex
	ids []int
}

type cycleMeta struct {
	intervalMS float64
	readMS     float64
	writeMS    float64
}

// NewParser returns a parser with an empty carry-over buffer.
func NewParser() *Parser {
	return &Parser{
		now:  time.Now,
		rows: make(map[string][]string),
	}
}

// Feed consumes one UDP payload and returns every frame completed by it.
// Frames are only emitted at vsd boundaries; a trailing unterminated cycle
// stays buffered (see Flush).
func (p *Parser) Feed(payload []byte) []*Frame {
	if len(payload) == 0 {
		return nil
	}
	buf := append(p.carry, payload...)

	var frames []*Frame
	for {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		line := strings.TrimRight(string(buf[:nl]), "\r")
		buf = buf[nl+1:]
		if f := p.consumeLine(line); f != nil {
			frames = append(frames, f)
		}
	}
	p.carry = buf
	return frames
}

// Flush closes the currently buffered cycle, if any, and returns its frame.
// Intended for shutdown or for callers that know no further vsd row will
// arrive; the regular receive path relies on vsd boundaries alone.
func (p *Parser) Flush() *Frame {
	if len(p.carry) > 0 {
		line := strings.TrimRight(string(p.carry), "\r")
		p.carry = nil
		p.consumeLine(line)
	}
	return p.closeCycle()
}

// IDs returns the most recently declared joint ordering, or nil if no id row
// has been seen yet. Safe to call while the receive loop is feeding.
func (p *Parser) IDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ids == nil {
		return nil
	}
	out := make([]int, len(p.ids))
	copy(out, p.ids)
	return out
}

func (p *Parser) consumeLine(line string) *Frame {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cells := strings.Split(line, ",")
	kind := strings.TrimSpace(cells[0])
	values := cells[1:]

	switch kind {
	case rowCycle:
		f := p.closeCycle()
		p.inCycle = true
		p.meta = parseCycleMeta(values)
		return f
	case rowIDs:
		ids := parseIDs(values)
		if len(ids) > 0 {
			p.mu.Lock()
			p.ids = ids
			p.mu.Unlock()
		}
	case rowAngles, rowVel, rowCurrent, rowTargets:
		p.rows[kind] = values
	case rowTargets2:
		p.rows[rowTargets] = values
	}
	return nil
}

// closeCycle emits the frame accumulated since the previous vsd row. Before
// the first id declaration nothing can be zipped, so the accumulated rows
// stay buffered and no frame is emitted.
func (p *Parser) closeCycle() *Frame {
	if !p.inCycle {
		return nil
	}
	p.mu.Lock()
	ids := p.ids
	p.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	f := &Frame{
		JointIDs:        ids,
		CycleIntervalMS: p.meta.intervalMS,
		ReadLatencyMS:   p.meta.readMS,
		WriteLatencyMS:  p.meta.writeMS,
		ReceivedAt:      p.now(),
	}

	f.Angles, f.MissingFields = p.zipFloat(ids, rowAngles, 0.1)
	if _, ok := p.rows[rowAngles]; !ok {
		f.MissingFields++ // angle row is the one mandatory row kind
	}
	if raw, ok := p.rows[rowTargets]; ok {
		targets, n := zipFloatRow(ids, raw, 0.1)
		f.TargetsEcho = targets
		f.MissingFields += n
	}
	if raw, ok := p.rows[rowVel]; ok {
		f.Velocities, f.MissingFields = zipIntRow(ids, raw, f.MissingFields)
	}
	if raw, ok := p.rows[rowCurrent]; ok {
		f.Currents, f.MissingFields = zipIntRow(ids, raw, f.MissingFields)
	}

	if f.MissingFields == 0 {
		f.Health = HealthOk
	} else {
		f.Health = HealthPartial
	}

	p.rows = make(map[string][]string)
	p.inCycle = false
	return f
}

// zipFloat zips the named row against ids; every id gets a key, with NaN for
// missing or malformed cells. Returns the map and the number of degraded
// cells. A row whose length disagrees with the id list still yields the
// positions that line up; the overhang or shortfall counts once.
func (p *Parser) zipFloat(ids []int, kind string, scale float64) (map[int]float64, int) {
	raw := p.rows[kind]
	out := make(map[int]float64, len(ids))
	missing := 0
	for i, id := range ids {
		out[id] = math.NaN()
		if i >= len(raw) {
			continue
		}
		cell := strings.TrimSpace(raw[i])
		if cell == "" {
			missing++
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			missing++
			continue
		}
		out[id] = v * scale
	}
	if raw != nil && len(raw) != len(ids) {
		missing++
	}
	return out, missing
}

func zipFloatRow(ids []int, raw []string, scale float64) (map[int]float64, int) {
	out := make(map[int]float64, len(ids))
	missing := 0
	for i, id := range ids {
		if i >= len(raw) {
			break
		}
		cell := strings.TrimSpace(raw[i])
		if cell == "" {
			missing++
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			missing++
			continue
		}
		out[id] = v * scale
	}
	if len(raw) != len(ids) {
		missing++
	}
	return out, missing
}

func zipIntRow(ids []int, raw []string, missing int) (map[int]int, int) {
	out := make(map[int]int, len(ids))
	for i, id := range ids {
		if i >= len(raw) {
			break
		}
		cell := strings.TrimSpace(raw[i])
		if cell == "" {
			missing++
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			missing++
			continue
		}
		out[id] = int(v)
	}
	if len(raw) != len(ids) {
		missing++
	}
	return out, missing
}

func parseIDs(values []string) []int {
	ids := make([]int, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		ids = append(ids, int(f))
	}
	return ids
}

// parseCycleMeta accepts both forms of the vsd row: positional numeric
// fields (interval, read, write) and tagged cells like "interval:10[ms]".
// Unknown tags (ver, mode) are skipped.
func parseCycleMeta(values []string) cycleMeta {
	var m cycleMeta
	pos := 0
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if key, val, ok := strings.Cut(v, ":"); ok {
			f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(val), "[ms]"), 64)
			if err != nil {
				continue
			}
			switch strings.TrimSpace(key) {
			case "interval":
				m.intervalMS = f
			case "read":
				m.readMS = f
			case "write":
				m.writeMS = f
			}
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		switch pos {
		case 0:
			m.intervalMS = f
		case 1:
			m.readMS = f
		case 2:
			m.writeMS = f
		}
		pos++
	}
	return m
}
