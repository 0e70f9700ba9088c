package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anttila/ccbridge/internal/bridge"
	"github.com/anttila/ccbridge/internal/call"
	"github.com/anttila/ccbridge/internal/config"
	"github.com/anttila/ccbridge/internal/eventloop"
	"github.com/anttila/ccbridge/internal/logger"
	"github.com/anttila/ccbridge/internal/mncc"
	"github.com/anttila/ccbridge/internal/sipleg"
)

const taskQueueDepth = 256

func main() {
	cfg := config.Load()
	logger.Init(os.Stdout, cfg.LogLevel)

	loop := eventloop.New(taskQueueDepth)
	go loop.Run()
	defer loop.Stop()

	registry := call.NewRegistry()

	sipAgent, err := sipleg.NewAgent(loop, cfg.SIPAdvertiseAddr, cfg.SIPBindPort, "sip:"+cfg.SIPRemoteAddr)
	if err != nil {
		slog.Error("failed to create sip agent", "err", err)
		os.Exit(1)
	}

	mnccConn := mncc.NewConnection(loop, registry, cfg.MNCCSocketPath, cfg.UseIMSIAsID)

	policy := bridge.NewPolicy(registry, sipAgent)
	mnccConn.SetRouteHandler(policy.RouteCall)
	mnccConn.OnDisconnect(policy.OnDisconnect)

	run(cfg, loop, mnccConn, sipAgent)
}

func run(cfg *config.Config, loop *eventloop.Loop, mnccConn *mncc.Connection, sipAgent *sipleg.Agent) {
	slog.Info("starting ccbridge",
		"mncc_socket", cfg.MNCCSocketPath,
		"sip_bind", fmt.Sprintf("%s:%d", cfg.SIPBindAddr, cfg.SIPBindPort),
		"sip_remote", cfg.SIPRemoteAddr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		listenAddr := fmt.Sprintf("%s:%d", cfg.SIPBindAddr, cfg.SIPBindPort)
		if err := sipAgent.ListenAndServe(ctx, "udp", listenAddr); err != nil && ctx.Err() == nil {
			slog.Error("sip transport stopped", "err", err)
		}
	}()

	mnccConn.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, shutting down", "signal", sig)
	cancel()
}
