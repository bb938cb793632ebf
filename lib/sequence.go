package lib

import (
	"fmt"
	"strconv"
)

// Seq is the 1-bit alternating sequence number used by stop-and-wait.
type Seq int8

const (
	SeqNone Seq = -1 // nothing accepted yet
	Seq0    Seq = 0
	Seq1    Seq = 1
)

// SeqOf converts a decoded sequence field. Only 0 and 1 are data sequences.
func SeqOf(n int) (Seq, bool) {
	switch n {
	case 0:
		return Seq0, true
	case 1:
		return Seq1, true
	}
	return SeqNone, false
}

// Flip returns the other data sequence. Flipping SeqNone is a programming error.
func (s Seq) Flip() Seq {
	switch s {
	case Seq0:
		return Seq1
	case Seq1:
		return Seq0
	}
	panic(fmt.Sprintf("lib: flip of invalid sequence %d", s))
}

func (s Seq) String() string {
	if s == SeqNone {
		return "none"
	}
	return strconv.Itoa(int(s))
}
