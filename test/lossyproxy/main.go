package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
	"github.com/Clouded-Sabre/Reliable-UDP/lib"
)

var log = logging.Logger("rudp/lossyproxy")

var (
	listenAddr  string
	targetAddr  string
	lossRate    float64
	corruptRate float64
	seed        int64
	allFrames   bool
)

func init() {
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:8901", "Proxy listen address")
	flag.StringVar(&targetAddr, "target", "127.0.0.1:8000", "Target server address")
	flag.Float64Var(&lossRate, "loss", 0.1, "Datagram loss rate (0.0-1.0)")
	flag.Float64Var(&corruptRate, "corrupt", 0.05, "Datagram corruption rate (0.0-1.0)")
	flag.Int64Var(&seed, "seed", 0, "Fault seed, 0 seeds from the clock")
	flag.BoolVar(&allFrames, "all", false, "Fault control frames and ACKs too, not only DATA")
}

// relay forwards datagrams between one client and the target, passing each
// through the fault injector.
type relay struct {
	front *net.UDPConn // faces the client
	back  *net.UDPConn // connected to the target
	fault *lib.FaultInjector

	mu     sync.Mutex
	client *net.UDPAddr
}

func main() {
	flag.Parse()
	if err := lib.SetLogLevel("info"); err != nil {
		log.Fatal(err)
	}

	laddr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		log.Fatalf("Invalid listen address %s: %v", listenAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", targetAddr)
	if err != nil {
		log.Fatalf("Invalid target address %s: %v", targetAddr, err)
	}

	front, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		log.Fatalf("Error listening at %s: %v", laddr, err)
	}
	back, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		log.Fatalf("Error connecting to %s: %v", raddr, err)
	}

	var src rand.Source
	if seed != 0 {
		src = rand.NewSource(seed)
	}
	r := &relay{
		front: front,
		back:  back,
		fault: lib.NewFaultInjector(lossRate, corruptRate, src),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("proxy %s -> %s started (loss %.1f%%, corruption %.1f%%)", laddr, raddr, lossRate*100, corruptRate*100)
	if err := r.run(ctx); err != nil {
		log.Errorf("proxy stopped: %v", err)
		os.Exit(1)
	}
	log.Info("proxy exiting")
}

func (r *relay) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		r.front.Close()
		r.back.Close()
		return nil
	})
	g.Go(func() error { return r.forward(ctx, "client-to-server") })
	g.Go(func() error { return r.backward(ctx, "server-to-client") })

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *relay) forward(ctx context.Context, direction string) error {
	buf := make([]byte, config.MaxDatagramSize)
	for {
		n, from, err := r.front.ReadFromUDP(buf)
		if err != nil {
			return closedErr(ctx, err)
		}
		r.mu.Lock()
		if r.client == nil || r.client.String() != from.String() {
			log.Infof("client %s connected", from)
			r.client = from
		}
		r.mu.Unlock()

		out, ok := r.inject(buf[:n], direction)
		if !ok {
			continue
		}
		if _, err := r.back.Write(out); err != nil {
			return closedErr(ctx, err)
		}
	}
}

func (r *relay) backward(ctx context.Context, direction string) error {
	buf := make([]byte, config.MaxDatagramSize)
	for {
		n, err := r.back.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return closedErr(ctx, err)
			}
			// ICMP port unreachable while the target is down
			log.Debugf("read from target: %v", err)
			continue
		}

		r.mu.Lock()
		client := r.client
		r.mu.Unlock()
		if client == nil {
			continue
		}

		out, ok := r.inject(buf[:n], direction)
		if !ok {
			continue
		}
		if _, err := r.front.WriteToUDP(out, client); err != nil {
			return closedErr(ctx, err)
		}
	}
}

// inject reports false when the datagram is to be dropped.
func (r *relay) inject(data []byte, direction string) ([]byte, bool) {
	if !allFrames && !bytes.HasPrefix(data, []byte(lib.FlagDATA+",")) {
		return data, true
	}
	out, fault := r.fault.Apply(data)
	switch fault {
	case lib.FaultDropped:
		log.Infof("dropped datagram in %s direction (size: %d)", direction, len(data))
		return nil, false
	case lib.FaultCorrupted:
		log.Infof("corrupted datagram in %s direction (size: %d)", direction, len(data))
	}
	return out, true
}

func closedErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
