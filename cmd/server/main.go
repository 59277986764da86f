package main

import (
	"context"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/orgtree/internal/server"
	"github.com/iota-uz/orgtree/pkg/configuration"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	srv := server.New(server.Options{
		Configuration: conf,
		Logger:        logger,
		Pool:          pool,
	})
	logger.WithField("address", conf.SocketAddress).Info("server listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
