package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
	"github.com/Clouded-Sabre/Reliable-UDP/lib"
	"github.com/Clouded-Sabre/Reliable-UDP/lib/httpmsg"
)

var (
	configPath string
	serverIP   string
	serverPort int
	docRoot    string
)

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file")
	flag.StringVar(&serverIP, "ip", "", "Listen IP address (overrides config)")
	flag.IntVar(&serverPort, "port", 0, "Listen port (overrides config)")
	flag.StringVar(&docRoot, "root", "", "Directory served to GET requests (overrides config)")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		pterm.Error.Println("Configuration file error:", err)
		os.Exit(1)
	}
	if serverIP != "" {
		cfg.ServerIP = serverIP
	}
	if serverPort != 0 {
		cfg.ServerPort = serverPort
	}
	if docRoot != "" {
		cfg.DocumentRoot = docRoot
	}
	if err := lib.SetLogLevel(cfg.LogLevel); err != nil {
		pterm.Warning.Println("Invalid log level:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	l, err := lib.Listen(cfg.Address(), cfg)
	if err != nil {
		pterm.Error.Printf("Error listening at %s: %v\n", cfg.Address(), err)
		os.Exit(1)
	}
	defer l.Close()

	pterm.Info.Printf("Server listening on %s (loss %.0f%%, corruption %.0f%%)\n",
		l.Addr(), cfg.LossProbability*100, cfg.CorruptionProbability*100)

	handler := &httpmsg.FileHandler{Root: cfg.DocumentRoot, PostFile: cfg.PostFile}
	for {
		err := serveSession(ctx, l, handler)
		if ctx.Err() != nil {
			pterm.Println()
			pterm.Info.Println("Received interrupt. Shutting down...")
			return
		}
		if err != nil {
			pterm.Error.Println("Session failed:", err)
		}
	}
}

// serveSession handles one client from handshake to teardown.
func serveSession(ctx context.Context, l *lib.Listener, handler *httpmsg.FileHandler) error {
	conn, err := l.Accept(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	pterm.Success.Println("Connection established with", conn.RemoteAddr())

	request, err := conn.Receive(ctx)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Request from %s:\n%s\n", conn.RemoteAddr(), request)

	if err := conn.Send(ctx, []byte(handler.Serve(string(request)))); err != nil {
		return err
	}

	closed, err := conn.AcceptClose(ctx)
	if err != nil {
		return err
	}
	if closed {
		pterm.Success.Println("Connection closed by", conn.RemoteAddr())
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	pterm.Info.Println("Metrics available at http://" + addr + "/metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		pterm.Error.Println("Metrics endpoint stopped:", err)
	}
}
