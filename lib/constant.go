package lib

// Flag is the control word in the first field of every frame.
type Flag string

const (
	FlagSYN    Flag = "SYN"
	FlagSYNACK Flag = "SYNACK"
	FlagACK    Flag = "ACK"
	FlagDATA   Flag = "DATA"
	FlagFIN    Flag = "FIN"
)

// Valid reports whether f is one of the five protocol flags.
func (f Flag) Valid() bool {
	switch f {
	case FlagSYN, FlagSYNACK, FlagACK, FlagDATA, FlagFIN:
		return true
	}
	return false
}

// Role is fixed for a connection's lifetime.
type Role int

const (
	Initiator Role = iota + 1 // side that sends SYN and FIN
	Acceptor                  // side that answers SYN and waits for FIN
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Acceptor:
		return "acceptor"
	}
	return "unknown"
}

// State of a connection: Closed -> Handshaking -> Established -> Closing -> Closed.
type State int

const (
	StateClosed State = iota
	StateHandshaking
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

const (
	fieldSeparator = ','
	checksumLength = 32  // hex-encoded MD5
	corruptionByte = 'X' // written over the last byte of a corrupted frame

	// dataFrameOverhead is "DATA,<seq>," plus ",<checksum>".
	dataFrameOverhead = len("DATA,0,") + 1 + checksumLength
)
