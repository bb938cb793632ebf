package lib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAcceptHandshake(t *testing.T) {
	l := listen(t, testConfig())
	p := newRawPeer(t)

	c := acceptFrom(t, l, p)

	assert.Equal(t, Acceptor, c.Role())
	assert.Equal(t, StateEstablished, c.State())
	assert.True(t, sameAddr(p.addr(), c.RemoteAddr()))
}

func TestAcceptIgnoresFramesBeforeSyn(t *testing.T) {
	l := listen(t, testConfig())
	p := newRawPeer(t)

	p.send(l.Addr(), Encode(FlagDATA, 0, []byte("early")))
	p.send(l.Addr(), []byte("garbage"))
	p.send(l.Addr(), Encode(FlagACK, 0, nil))
	assert.Nil(t, p.readData(150*time.Millisecond), "nothing is answered before a SYN")

	c := acceptFrom(t, l, p)
	assert.Equal(t, StateEstablished, c.State())
}

func TestAcceptDoesNotResendSynack(t *testing.T) {
	cfg := testConfig()
	l := listen(t, cfg)
	p := newRawPeer(t)
	ctx := testContext(t, 3*time.Second)

	done := make(chan *Connection, 1)
	go func() {
		c, err := l.Accept(ctx)
		assert.NoError(t, err)
		done <- c
	}()

	// first attempt: swallow the SYNACK, never ACK
	p.send(l.Addr(), Encode(FlagSYN, 0, nil))
	f, _ := p.readFrame(time.Second)
	require.Equal(t, FlagSYNACK, f.Flag)
	assert.Nil(t, p.readData(cfg.HandshakeTimeout+150*time.Millisecond), "SYNACK must not be retransmitted")

	// the acceptor is back to waiting for a SYN
	p.send(l.Addr(), Encode(FlagSYN, 0, nil))
	f, _ = p.readFrame(time.Second)
	require.Equal(t, FlagSYNACK, f.Flag)
	p.send(l.Addr(), Encode(FlagACK, 0, nil))

	select {
	case c := <-done:
		require.NotNil(t, c)
		assert.Equal(t, StateEstablished, c.State())
	case <-time.After(time.Second):
		t.Fatal("Accept did not return")
	}
}

func TestDialHandshakeOrder(t *testing.T) {
	p := newRawPeer(t)
	cfg := testConfig()

	var observed []Flag
	ctx := testContext(t, 2*time.Second)
	done := make(chan error, 1)
	var c *Connection
	go func() {
		var err error
		c, err = Dial(ctx, p.addr().String(), cfg)
		done <- err
	}()

	syn, from := p.readFrame(time.Second)
	observed = append(observed, syn.Flag)
	p.send(from, Encode(FlagSYNACK, 0, nil))
	observed = append(observed, FlagSYNACK)
	ack, _ := p.readFrame(time.Second)
	observed = append(observed, ack.Flag)

	require.NoError(t, <-done)
	t.Cleanup(func() { c.release() })

	assert.Equal(t, []Flag{FlagSYN, FlagSYNACK, FlagACK}, observed)
	assert.Equal(t, 0, syn.Seq)
	assert.Equal(t, 0, ack.Seq)
	assert.Equal(t, Initiator, c.Role())
	assert.Equal(t, StateEstablished, c.State())
}

func TestDialIgnoresUnexpectedFrames(t *testing.T) {
	p := newRawPeer(t)
	ctx := testContext(t, 2*time.Second)

	done := make(chan error, 1)
	go func() {
		c, err := Dial(ctx, p.addr().String(), testConfig())
		if err == nil {
			c.release()
		}
		done <- err
	}()

	_, from := p.readFrame(time.Second)
	corrupted := Encode(FlagSYNACK, 0, nil)
	corrupted[len(corrupted)-1] = corruptionByte
	p.send(from, corrupted)
	p.send(from, Encode(FlagFIN, 0, nil))
	p.send(from, []byte("ACK,0"))
	assert.Nil(t, p.readData(60*time.Millisecond), "no ACK before a valid SYNACK")

	p.send(from, Encode(FlagSYNACK, 0, nil))
	f, _ := p.readFrame(time.Second)
	assert.Equal(t, FlagACK, f.Flag)
	assert.NoError(t, <-done)
}

func TestDialTimesOutWithoutRetry(t *testing.T) {
	p := newRawPeer(t)
	cfg := testConfig()

	start := time.Now()
	c, err := Dial(testContext(t, 2*time.Second), p.addr().String(), cfg)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, time.Since(start), cfg.HandshakeTimeout)

	syn, _ := p.readFrame(time.Second)
	assert.Equal(t, FlagSYN, syn.Flag)
	assert.Nil(t, p.readData(100*time.Millisecond), "SYN is sent exactly once")
}

func TestDialHonoursContext(t *testing.T) {
	p := newRawPeer(t)
	cfg := testConfig()
	cfg.HandshakeTimeout = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Dial(ctx, p.addr().String(), cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcceptCloseEchoesFinSequence(t *testing.T) {
	l := listen(t, testConfig())
	p := newRawPeer(t)
	c := acceptFrom(t, l, p)
	ctx := testContext(t, 2*time.Second)

	done := make(chan bool, 1)
	go func() {
		ok, err := c.AcceptClose(ctx)
		assert.NoError(t, err)
		done <- ok
	}()

	stranger := newRawPeer(t)
	stranger.send(l.Addr(), Encode(FlagFIN, 0, nil))
	assert.Nil(t, stranger.readData(100*time.Millisecond), "FIN from another address is ignored")

	p.send(l.Addr(), Encode(FlagDATA, 0, []byte("late")))
	p.send(l.Addr(), Encode(FlagFIN, 1, nil))

	f, _ := p.readFrame(time.Second)
	assert.Equal(t, FlagACK, f.Flag)
	assert.Equal(t, 1, f.Seq)
	assert.True(t, <-done)
	assert.Equal(t, StateClosed, c.State())
}

func TestCloseSendsFinAndWaitsForAck(t *testing.T) {
	p := newRawPeer(t)
	cfg := testConfig()
	cfg.CloseTimeout = 2 * time.Second
	c, from := dialTo(t, p, cfg)

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- c.Close(testContext(t, 3*time.Second)) }()

	fin, _ := p.readFrame(time.Second)
	assert.Equal(t, FlagFIN, fin.Flag)
	assert.Equal(t, 0, fin.Seq)
	p.send(from, Encode(FlagACK, fin.Seq, nil))

	require.NoError(t, <-done)
	assert.Less(t, time.Since(start), cfg.CloseTimeout, "Close returns as soon as the ACK arrives")
	assert.Equal(t, StateClosed, c.State())
	assert.Nil(t, c.LocalAddr(), "socket released")
}

func TestCloseWithoutAckStillCloses(t *testing.T) {
	p := newRawPeer(t)
	cfg := testConfig()
	c, _ := dialTo(t, p, cfg)

	start := time.Now()
	require.NoError(t, c.Close(testContext(t, 2*time.Second)))
	assert.GreaterOrEqual(t, time.Since(start), cfg.CloseTimeout)
	assert.Equal(t, StateClosed, c.State())

	fin, _ := p.readFrame(time.Second)
	assert.Equal(t, FlagFIN, fin.Flag)
	assert.NoError(t, c.Close(context.Background()), "closing twice is harmless")
}

func TestDialAcceptCloseEndToEnd(t *testing.T) {
	cfg := testConfig()
	l := listen(t, cfg)

	g, ctx := errgroup.WithContext(testContext(t, 5*time.Second))
	g.Go(func() error {
		c, err := l.Accept(ctx)
		if err != nil {
			return err
		}
		ok, err := c.AcceptClose(ctx)
		assert.True(t, ok)
		return err
	})
	g.Go(func() error {
		c, err := Dial(ctx, l.Addr().String(), cfg)
		if err != nil {
			return err
		}
		assert.Equal(t, StateEstablished, c.State())
		return c.Close(ctx)
	})
	require.NoError(t, g.Wait())
}
