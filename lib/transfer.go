package lib

import (
	"context"
	"fmt"
	"time"
)

// Send delivers payload to the peer with stop-and-wait ARQ. The payload goes
// out as DATA,0 and, once ACK,0 arrives, again as DATA,1; the call returns
// after ACK,1. Each frame is retransmitted unchanged after every timeout,
// without limit, so Send only fails on socket errors or when ctx ends.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	if c.state != StateEstablished {
		return ErrNotEstablished
	}
	if len(payload) > c.maxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), c.maxPayload)
	}

	c.localSeq = Seq0
	for {
		frame := Encode(FlagDATA, int(c.localSeq), payload)
		if err := c.deliver(ctx, frame, c.localSeq); err != nil {
			return err
		}
		log.Debugf("[%s] ACK,%s received", c.id, c.localSeq)

		if c.localSeq == Seq1 {
			c.localSeq = Seq0
			return nil
		}
		c.localSeq = c.localSeq.Flip()
	}
}

// deliver transmits frame until ACK,<seq> comes back.
func (c *Connection) deliver(ctx context.Context, frame []byte, seq Seq) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			retransmissions.Inc()
			log.Debugf("[%s] no ACK for DATA,%s, resending (attempt %d)", c.id, seq, attempt+1)
		}
		if err := c.transmitData(frame, seq); err != nil {
			return err
		}

		acked, err := c.awaitDataAck(ctx, seq)
		if err != nil || acked {
			return err
		}
	}
}

// transmitData passes one attempt through the fault injector, then sends it.
func (c *Connection) transmitData(frame []byte, seq Seq) error {
	out, fault := c.fault.Apply(frame)
	if fault != FaultNone {
		faultsInjected.WithLabelValues(fault.String()).Inc()
	}
	if fault == FaultDropped {
		log.Debugf("[%s] simulated loss of DATA,%s", c.id, seq)
		return nil
	}
	if fault == FaultCorrupted {
		log.Debugf("[%s] sending corrupted DATA,%s", c.id, seq)
	}

	if err := c.sock.writeTo(out, c.peer); err != nil {
		return fmt.Errorf("send DATA,%s: %w", seq, err)
	}
	framesSent.WithLabelValues(string(FlagDATA)).Inc()
	return nil
}

// awaitDataAck waits one timeout for ACK,<seq>. It reports false when the
// timeout expires.
func (c *Connection) awaitDataAck(ctx context.Context, seq Seq) (bool, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		ev, err := c.await(ctx, deadline)
		if err != nil {
			return false, err
		}

		switch ev.kind {
		case eventTimeout:
			return false, nil
		case eventDataAck:
			if ev.ack == seq {
				return true, nil
			}
			log.Debugf("[%s] wrong ACK,%s while waiting for ACK,%s", c.id, ev.ack, seq)
		case eventFrame:
			if !c.reackDuplicate(ev.frame) {
				c.logUnexpected(ev.frame)
			}
		}
	}
}

// Receive blocks until the peer's next payload has been delivered: DATA,0
// and DATA,1 are both acknowledged and the payload of DATA,1 is returned.
// Invalid frames are dropped without an ACK. A frame repeating the last
// accepted sequence is acknowledged again but never delivered twice.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if c.state != StateEstablished {
		return nil, ErrNotEstablished
	}

	for {
		ev, err := c.await(ctx, time.Now().Add(c.timeout))
		if err != nil {
			return nil, err
		}

		switch ev.kind {
		case eventTimeout:
			log.Debugf("[%s] waiting for packet", c.id)
			continue
		case eventDataAck:
			log.Debugf("[%s] ignoring stray ACK,%s", c.id, ev.ack)
			continue
		}

		f := ev.frame
		if f.Flag != FlagDATA {
			c.logUnexpected(f)
			continue
		}
		seq, ok := SeqOf(f.Seq)
		if !ok {
			log.Debugf("[%s] ignoring DATA with sequence %d", c.id, f.Seq)
			continue
		}

		if seq == c.lastAcked {
			duplicates.Inc()
			log.Debugf("[%s] duplicate DATA,%s, resending ACK", c.id, seq)
			if err := c.sendAck(seq); err != nil {
				return nil, err
			}
			continue
		}

		c.lastAcked = seq
		if err := c.sendAck(seq); err != nil {
			return nil, err
		}
		log.Debugf("[%s] DATA,%s accepted (%d bytes)", c.id, seq, len(f.Payload))
		if seq == Seq1 {
			return f.Payload, nil
		}
	}
}

// reackDuplicate answers a DATA frame repeating the last accepted sequence.
// It happens when our ACK was lost after Receive returned.
func (c *Connection) reackDuplicate(f *Frame) bool {
	if f.Flag != FlagDATA || c.lastAcked == SeqNone || f.Seq != int(c.lastAcked) {
		return false
	}
	duplicates.Inc()
	log.Debugf("[%s] late duplicate DATA,%d, resending ACK", c.id, f.Seq)
	if err := c.sendAck(c.lastAcked); err != nil {
		log.Warnf("[%s] %v", c.id, err)
	}
	return true
}

func (c *Connection) sendAck(seq Seq) error {
	if err := c.sock.writeTo(ackText(seq), c.peer); err != nil {
		return fmt.Errorf("send ACK,%s: %w", seq, err)
	}
	framesSent.WithLabelValues(string(FlagACK)).Inc()
	return nil
}
