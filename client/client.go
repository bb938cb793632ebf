package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
	"github.com/Clouded-Sabre/Reliable-UDP/lib"
	"github.com/Clouded-Sabre/Reliable-UDP/lib/httpmsg"
)

var (
	configPath string
	serverAddr string
	method     string
	path       string
	body       string
)

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file")
	flag.StringVar(&serverAddr, "server", "", "Server address host:port (overrides config)")
	flag.StringVar(&method, "method", "", "Request method: GET or POST (prompted when empty)")
	flag.StringVar(&path, "path", "", "Request path")
	flag.StringVar(&body, "body", "Luka Modric is the best midfielder in history", "POST body")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		pterm.Error.Println("Configuration file error:", err)
		os.Exit(1)
	}
	if err := lib.SetLogLevel(cfg.LogLevel); err != nil {
		pterm.Warning.Println("Invalid log level:", err)
	}
	address := cfg.Address()
	if serverAddr != "" {
		address = serverAddr
	}

	if method == "" {
		method = chooseMethod()
	}
	request, ok := buildRequest(strings.ToUpper(method), cfg)
	if !ok {
		pterm.Error.Println("Unsupported method:", method)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, address, request, cfg); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func chooseMethod() string {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"GET  - fetch a file", "POST - submit a body"}).
		WithDefaultText("Select request method").
		Show()
	pterm.Println()
	return strings.TrimSpace(strings.SplitN(choice, " ", 2)[0])
}

func buildRequest(method string, cfg *config.Config) (string, bool) {
	switch method {
	case "GET":
		p := path
		if p == "" {
			p = "/" + cfg.PostFile
		}
		return httpmsg.BuildGetRequest(p, cfg.ServerIP), true
	case "POST":
		p := path
		if p == "" {
			p = "/submit"
		}
		return httpmsg.BuildPostRequest(p, cfg.ServerIP, body), true
	}
	return "", false
}

func run(ctx context.Context, address, request string, cfg *config.Config) error {
	conn, err := lib.DialWithRetry(ctx, address, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	pterm.Success.Println("Connected to", conn.RemoteAddr())

	if err := conn.Send(ctx, []byte(request)); err != nil {
		return err
	}
	pterm.Info.Println("Request sent")

	response, err := conn.Receive(ctx)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Response:\n%s\n", response)
	return nil
}
