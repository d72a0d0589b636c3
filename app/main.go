package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collision-kv/config"
	"collision-kv/facade"
	"collision-kv/server"
	"collision-kv/store"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("collision-kv stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()
	st, err := store.New(cfg.Store.Dir,
		store.WithPrefixBits(cfg.Store.PrefixBits),
		store.WithReadMode(cfg.ReadMode()),
		store.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := facade.New(st, logger)
	ser := server.NewServer(st,
		server.WithAddress(cfg.Server.GRPCAddress),
		server.WithLogger(logger),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("http server started", "address", cfg.Server.HTTPAddress)
		return app.Listen(cfg.Server.HTTPAddress, fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(ser.Start)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Infow("shutting down")
		ser.Stop()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	err = g.Wait()
	if cerr := st.Close(); err == nil {
		err = cerr
	}
	return err
}
