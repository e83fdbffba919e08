package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alimasry/go-block-editor/config"
	"github.com/alimasry/go-block-editor/ot"
	"github.com/alimasry/go-block-editor/server"
	"github.com/alimasry/go-block-editor/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collaboration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := setupLogger(cfg.LogLevel)
		return serve(cmd.Context(), cfg, logrus.NewEntry(log))
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().String("store", "", "document store: memory, badger or firestore")
	rootCmd.AddCommand(serveCmd)
}

// openStore builds the configured document store. The returned closer
// flushes and releases it.
func openStore(ctx context.Context, cfg config.Config, log *logrus.Entry) (store.DocumentStore, io.Closer, error) {
	switch cfg.Store {
	case config.StoreBadger:
		st, err := store.NewBadgerStore(cfg.BadgerDir, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		cached := store.NewCachedStore(store.NewFirestoreStore(client), cfg.FlushInterval, log)
		return cached, closerFunc(func() error {
			cached.Close()
			return client.Close()
		}), nil
	default:
		return store.NewMemoryStore(), closerFunc(func() error { return nil }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func serve(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closer, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.WithError(err).Error("closing store")
		}
	}()

	hub := server.NewHub(st, &ot.JupiterEngine{}, cfg.Headings, log)
	go hub.Run()

	srv := &http.Server{Addr: cfg.Addr, Handler: server.NewHandler(hub)}
	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "store": cfg.Store}).Info("starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
