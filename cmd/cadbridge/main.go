// Command cadbridge runs the CAD side against the in-memory reference host:
// it launches the agent, serves the palette and executes tool calls on a
// sample design.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/addin"
	"github.com/m4xw311/cadlink/bridge"
	"github.com/m4xw311/cadlink/cad/memcad"
	"github.com/m4xw311/cadlink/config"
	"github.com/m4xw311/cadlink/logging"
	"github.com/m4xw311/cadlink/metrics"
)

func main() {
	configFlag := flag.String("config", "", "Path to cadlink.yaml (defaults to ./cadlink.yaml)")
	terminalFlag := flag.Bool("terminal", false, "Use a terminal palette instead of the websocket server")
	verboseFlag := flag.Bool("v", false, "Print tool arguments and outputs in the terminal palette")
	replayFlag := flag.String("replay", "", "Replay a recorded session instead of talking to the agent")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *replayFlag != "" {
		cfg.ReplayFile = *replayFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
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

	m := metrics.New()
	a, err := addin.New(cfg, memcad.NewSampleDesign(), addin.WithLogger(log), addin.WithMetrics(m))
	if err != nil {
		log.Error("error initializing add-in", zap.Error(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		log.Error("error starting add-in", zap.Error(err))
		a.Stop()
		os.Exit(1)
	}
	defer a.Stop()

	if *terminalFlag {
		term := bridge.NewTerminal(os.Stdin, os.Stdout)
		term.Verbose = *verboseFlag
		go a.Bridge.Run(ctx)
		fmt.Println("cadlink is ready. Type your prompt.")
		if err := term.Run(ctx, a.Bridge); err != nil {
			log.Error("terminal stopped with an error", zap.Error(err))
		}
		return
	}

	srv := bridge.NewServer(cfg.PaletteAddress, a.Bridge, m, log)
	go a.Bridge.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil {
		log.Error("palette server stopped with an error", zap.Error(err))
	}
}
