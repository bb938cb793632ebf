package lib

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "frames_sent_total",
		Help:      "Frames handed to the socket, by flag. Dropped frames are not counted.",
	}, []string{"flag"})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "frames_received_total",
		Help:      "Valid frames read from the socket, by flag.",
	}, []string{"flag"})

	framesDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "frames_discarded_total",
		Help:      "Datagrams discarded before reaching the state machine, by reason.",
	}, []string{"reason"})

	faultsInjected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "faults_injected_total",
		Help:      "Outbound DATA frames dropped or corrupted by the fault injector.",
	}, []string{"fault"})

	retransmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "retransmissions_total",
		Help:      "DATA frames sent again after an acknowledgment timeout.",
	})

	duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "duplicates_total",
		Help:      "Duplicate DATA frames re-acknowledged without delivery.",
	})

	handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "handshakes_total",
		Help:      "Completed and failed handshakes, by role and result.",
	}, []string{"role", "result"})
)

func init() {
	mustRegister(framesSent)
	mustRegister(framesReceived)
	mustRegister(framesDiscarded)
	mustRegister(faultsInjected)
	mustRegister(retransmissions)
	mustRegister(duplicates)
	mustRegister(handshakes)
}

func mustRegister(c prometheus.Collector) {
	err := prometheus.Register(c)
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		return
	}
	if err != nil {
		panic(err)
	}
}
