package command

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Encoder turns a Command into the line-oriented CSV packet the controller
// accepts:
//
//	cmd,<mode>,<interval_echo>[,reason:<reason>]
//	id,<id1>,<id2>,...
//	tar,<t1>,<t2>,...        angles as round(deg*10) integers
//	spd,...  trq,...         optional ceilings, same order as id
//	sync,<fields>            opaque passthrough
//
// Encoding is pure and deterministic apart from the default sync timestamp.
// Limit violations yield an EncodingError; the orchestrator clamps before
// encoding, so that check should be unreachable in normal operation.
type Encoder struct {
	limits Limits
	now    func() time.Time
}

// NewEncoder returns an encoder enforcing the given limits. Joints without
// a configured limit are not range-checked.
func NewEncoder(limits Limits) *Encoder {
	return &Encoder{limits: limits, now: time.Now}
}

// Encode serializes cmd, terminating every row with a newline.
func (e *Encoder) Encode(cmd *Command) ([]byte, error) {
	if len(cmd.IDs) == 0 {
		return nil, &EncodingError{Detail: "no joint ids"}
	}
	if len(cmd.TargetsDeg) != len(cmd.IDs) {
		return nil, &EncodingError{Detail: "targets do not match id count"}
	}
	if cmd.SpeedsRaw != nil && len(cmd.SpeedsRaw) != len(cmd.IDs) {
		return nil, &EncodingError{Detail: "speeds do not match id count"}
	}
	if cmd.TorquesRaw != nil && len(cmd.TorquesRaw) != len(cmd.IDs) {
		return nil, &EncodingError{Detail: "torques do not match id count"}
	}
	for i, id := range cmd.IDs {
		v := cmd.TargetsDeg[i]
		if math.IsNaN(v) {
			return nil, &EncodingError{JointID: id, Value: v, Detail: "target is NaN"}
		}
		if lim, ok := e.limits[id]; ok && (v < lim.Min || v > lim.Max) {
			return nil, &EncodingError{JointID: id, Value: v, Detail: "target outside joint limit"}
		}
	}

	var sb strings.Builder
	sb.WriteString("cmd,")
	sb.WriteString(string(cmd.Mode))
	sb.WriteByte(',')
	sb.WriteString(strconv.Itoa(int(math.Round(cmd.IntervalEchoMS))))
	if cmd.Reason != "" {
		sb.WriteString(",reason:")
		sb.WriteString(cmd.Reason)
	}
	sb.WriteByte('\n')

	writeIntRow(&sb, "id", cmd.IDs)
	sb.WriteString("tar")
	for _, v := range cmd.TargetsDeg {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(int(math.Round(v * 10))))
	}
	sb.WriteByte('\n')
	if cmd.SpeedsRaw != nil {
		writeIntRow(&sb, "spd", cmd.SpeedsRaw)
	}
	if cmd.TorquesRaw != nil {
		writeIntRow(&sb, "trq", cmd.TorquesRaw)
	}

	sync := cmd.Sync
	if sync == nil {
		sync = []string{strconv.FormatInt(e.now().UnixMilli(), 10), "0"}
	}
	sb.WriteString("sync")
	for _, f := range sync {
		sb.WriteByte(',')
		sb.WriteString(f)
	}
	sb.WriteByte('\n')

	return []byte(sb.String()), nil
}

func writeIntRow(sb *strings.Builder, kind string, values []int) {
	sb.WriteString(kind)
	for _, v := range values {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(v))
	}
	sb.WriteByte('\n')
}
