// Command relay-server runs the chat relay on a plain WebSocket listener and,
// when a key pair is available, on a TLS listener.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luciancaetano/kephasrelay"
	"github.com/luciancaetano/kephasrelay/internal/logsink"
	"github.com/luciancaetano/kephasrelay/internal/protocol"
	"github.com/luciancaetano/kephasrelay/internal/relay"
	"github.com/luciancaetano/kephasrelay/ws"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logFile, err := logsink.OpenFile(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer logFile.Close()

	sink := logsink.New(logFile, !cfg.Quiet)
	gateway := relay.NewGateway(relay.NewServer(sink))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var servers []kephasrelay.WebsocketServer

	if cfg.InsecureAddr != "" {
		wsCfg := ws.NewConfig(cfg.InsecureAddr, cfg.RateLimit(), cfg.CheckOrigin(),
			gateway.OnConnect, gateway.OnMessage, gateway.OnDisconnect)
		wsCfg.MaxMessageSize = cfg.MaxMessageSize
		server := ws.New(wsCfg)
		if err := server.Start(ctx); err != nil {
			log.Fatalf("Failed to start insecure ws server: %v", err)
		}
		sink.Log("insecure ws server listening on " + cfg.InsecureAddr)
		servers = append(servers, server)
	}

	if cfg.TLSAvailable() {
		wsCfg := ws.NewTLSConfig(cfg.SecureAddr, cfg.CertFile, cfg.KeyFile, cfg.RateLimit(), cfg.CheckOrigin(),
			gateway.OnConnect, gateway.OnMessage, gateway.OnDisconnect)
		wsCfg.MaxMessageSize = cfg.MaxMessageSize
		server := ws.New(wsCfg)
		if err := server.Start(ctx); err != nil {
			log.Fatalf("Failed to start secure ws server: %v", err)
		}
		sink.Log("secure ws server listening on " + cfg.SecureAddr)
		servers = append(servers, server)
	} else if cfg.SecureAddr != "" {
		log.Printf("TLS key pair %s / %s not found, secure listener disabled", cfg.CertFile, cfg.KeyFile)
	}

	if len(servers) == 0 {
		log.Fatal("No listener started")
	}

	<-ctx.Done()

	gateway.Server().Broadcast(context.Background(),
		protocol.NewServerControl(false, kephasrelay.VerbStatus, kephasrelay.StatusShutdown))

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Stop(stopCtx); err != nil {
			log.Printf("Failed to stop server: %v", err)
		}
	}
	sink.Log("ws servers closed")
}
