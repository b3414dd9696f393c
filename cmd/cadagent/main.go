package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/agent"
	"github.com/m4xw311/cadlink/config"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/tools/mcp"
	"github.com/m4xw311/cadlink/transport"
)

func main() {
	configFlag := flag.String("config", "", "Path to cadlink.yaml (defaults to ./cadlink.yaml)")
	listenFlag := flag.String("listen", "", "Address to listen on (overrides agent_address)")
	threadFlag := flag.String("thread", "", "Resume a saved thread by name")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.AgentAddress = *listenFlag
	}
	if err := cfg.ValidateAgent(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if cfg.AgentSecret == "" {
		fmt.Fprintf(os.Stderr, "Configuration error: agent_secret is not set and %s is empty\n", config.SecretEnv)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extra := mcp.Start(ctx, cfg.AdditionalMCPServers, log)
	defer extra.Stop()

	a, err := agent.New(ctx, agent.SettingsFromConfig(cfg), agent.ProviderFactory(cfg.APIKey),
		agent.WithLogger(log),
		agent.WithLocalTools(extra),
		agent.WithSessionsDir(cfg.SessionsDir))
	if err != nil {
		log.Error("error initializing agent", zap.Error(err))
		os.Exit(1)
	}
	if *threadFlag != "" {
		if err := a.Resume(*threadFlag); err != nil {
			log.Error("error resuming thread", zap.String("thread", *threadFlag), zap.Error(err))
			os.Exit(1)
		}
	}
	log.Info("thread ready", zap.String("thread", a.Thread()), zap.String("llm", cfg.LLMClient), zap.String("model", cfg.Model))

	l, err := transport.Listen(cfg.AgentAddress, cfg.AgentSecret)
	if err != nil {
		log.Error("error listening", zap.Error(err))
		os.Exit(1)
	}
	if err := a.Serve(ctx, l); err != nil {
		log.Error("agent stopped with an error", zap.Error(err))
		os.Exit(1)
	}
	a.Wait()
}
