package main

import (
	"context"
	"flag"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/sim/reference"
	"roadtest.ai/internal/testserver"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "", "game config (json or yaml)")
		seed       = flag.Uint64("seed", 1337, "seed for random spawn points")
		autoTick   = flag.Bool("auto_tick", false, "reject the tick endpoint as a server with its own clock does")
		retirement = flag.Duration("retirement", 0, "override dogRetirementTime (0 = from config)")
		debug      = flag.Bool("debug", false, "gin debug mode")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[refserver] ", log.LstdFlags|log.Lmicroseconds)
	if *configPath == "" {
		logger.Fatalf("missing -config")
	}
	cfg, err := gameconfig.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !*debug {
		gin.SetMode(gin.ReleaseMode)
	}

	retire := cfg.RetirementTime()
	if *retirement > 0 {
		retire = *retirement
	}
	gopts := []reference.Option{
		reference.WithRand(rand.New(rand.NewPCG(*seed, *seed))),
		reference.WithRetirement(retire),
	}
	var sopts []testserver.Option
	if *autoTick {
		sopts = append(sopts, testserver.WithAutoTick())
	}
	game := reference.New(cfg, gopts...)

	srv := &http.Server{
		Handler:           testserver.New(game, logger, sopts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("maps=%d retirement=%s listening on %s", len(cfg.Maps), retire, ln.Addr())
	// The suite waits for this line on stdout.
	os.Stdout.WriteString("Server has started...\n")
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Serve: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
