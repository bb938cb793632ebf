package lib

import (
	"bytes"
	"fmt"
	"strconv"
)

// Frame is the unit exchanged over the datagram channel:
//
//	<FLAG>,<SEQ>,<PAYLOAD>,<CHECKSUM>
//
// where CHECKSUM is Digest("<FLAG>,<SEQ>,<PAYLOAD>").
type Frame struct {
	Flag     Flag
	Seq      int
	Payload  []byte
	Checksum string
}

// NewFrame builds a frame and computes its checksum.
func NewFrame(flag Flag, seq int, payload []byte) *Frame {
	f := &Frame{Flag: flag, Seq: seq, Payload: payload}
	f.Checksum = Digest(f.body())
	return f
}

// Encode serializes flag, sequence and payload into a checksummed frame.
func Encode(flag Flag, seq int, payload []byte) []byte {
	return NewFrame(flag, seq, payload).Marshal()
}

// body is the checksummed part of the frame.
func (f *Frame) body() []byte {
	buf := make([]byte, 0, len(f.Flag)+len(f.Payload)+4)
	buf = append(buf, f.Flag...)
	buf = append(buf, fieldSeparator)
	buf = strconv.AppendInt(buf, int64(f.Seq), 10)
	buf = append(buf, fieldSeparator)
	return append(buf, f.Payload...)
}

// Marshal converts the frame to its wire form.
func (f *Frame) Marshal() []byte {
	buf := f.body()
	buf = append(buf, fieldSeparator)
	return append(buf, f.Checksum...)
}

// Valid reports whether the stored checksum matches the frame contents.
func (f *Frame) Valid() bool {
	return Validate(f)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s,%d (%d bytes)", f.Flag, f.Seq, len(f.Payload))
}

// Decode parses a frame. The flag and sequence are split from the left and
// the checksum from the right, so the payload may itself contain commas.
// Decode does not verify the checksum; see Validate.
func Decode(data []byte) (*Frame, error) {
	flagField, rest, ok := bytes.Cut(data, []byte{fieldSeparator})
	if !ok {
		return nil, &DecodeError{Reason: "missing sequence field"}
	}
	seqField, rest, ok := bytes.Cut(rest, []byte{fieldSeparator})
	if !ok {
		return nil, &DecodeError{Reason: "missing payload field"}
	}
	i := bytes.LastIndexByte(rest, fieldSeparator)
	if i < 0 {
		return nil, &DecodeError{Reason: "missing checksum field"}
	}

	flag := Flag(flagField)
	if !flag.Valid() {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown flag %q", flagField)}
	}
	seq, err := strconv.Atoi(string(seqField))
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("bad sequence %q", seqField)}
	}

	f := &Frame{
		Flag:     flag,
		Seq:      seq,
		Checksum: string(rest[i+1:]),
	}
	if i > 0 {
		f.Payload = make([]byte, i)
		copy(f.Payload, rest[:i])
	}
	return f, nil
}

// ackText is the bare acknowledgment for a DATA frame. It carries no checksum
// and is not a four-field frame.
func ackText(seq Seq) []byte {
	return []byte("ACK," + seq.String())
}

// parseAckText recognizes a bare DATA acknowledgment.
func parseAckText(data []byte) (Seq, bool) {
	switch string(data) {
	case "ACK,0":
		return Seq0, true
	case "ACK,1":
		return Seq1, true
	}
	return SeqNone, false
}
