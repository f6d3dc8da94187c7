// listforged is the listforge dashboard daemon. It caches the block/allow
// lists referenced by each DNS-serving node's blocking configuration, keeps
// them fresh on the nodes' own schedules and serves classification and
// policy-simulation queries over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	ddbv1 "github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/ipfs/go-datastore"
	badger4 "github.com/ipfs/go-ds-badger4"
	ddbds "github.com/ipfs/go-ds-dynamodb"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"

	"github.com/dnsdash/listforge/blocklist"
	"github.com/dnsdash/listforge/dashboard"
	"github.com/dnsdash/listforge/upstream"
)

var log = logging.Logger("listforged")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "listforged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfgPath := os.Getenv("LISTFORGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "listforge.yaml"
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ds, err := openDatastore(cfg)
	if err != nil {
		return err
	}
	defer ds.Close()

	store := blocklist.NewStore(blocklist.Options{
		FreshnessWindow: cfg.FreshnessWindow,
		FetchTimeout:    cfg.FetchTimeout,
		Persister:       blocklist.NewDatastorePersister(ds),
	})
	defer store.Close()

	source, registry, closeSource, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	engine := blocklist.NewEngine(store, source, registry)
	sched := blocklist.NewScheduler(store, source, registry)
	defer sched.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Rehydrate before any schedule can trigger network fetches, so a
	// restart serves cached lists immediately.
	if nodes, err := registry.ListNodes(ctx); err == nil {
		for _, node := range nodes {
			if _, err := store.RehydrateNode(ctx, node.ID); err != nil {
				log.Warnf("node %s: rehydration failed: %v", node.ID, err)
			}
		}
	} else {
		log.Warnf("listing nodes for rehydration failed: %v", err)
	}

	if err := sched.InitializeSchedules(ctx); err != nil {
		log.Warnf("initializing schedules: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: dashboard.NewServer(engine, sched, store).Handler(),
	}
	go func() {
		log.Infof("dashboard API listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("dashboard server: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// openDatastore selects the persistence backend: badger for local disk,
// dynamo for a shared table across dashboard replicas.
func openDatastore(cfg *Config) (datastore.Batching, error) {
	switch cfg.Database.Type {
	case "badger":
		ds, err := badger4.NewDatastore(cfg.Database.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("opening badger datastore at %s: %w", cfg.Database.Path, err)
		}
		return ds, nil
	case "dynamo":
		if cfg.Database.Table == "" {
			return nil, fmt.Errorf("database.table is required for dynamo")
		}
		ddbClient := ddbv1.New(session.Must(session.NewSession()))
		return ddbds.New(ddbClient, cfg.Database.Table), nil
	default:
		return nil, fmt.Errorf("unknown database type %q (expected badger or dynamo)", cfg.Database.Type)
	}
}

func openSource(cfg *Config) (blocklist.ConfigSource, blocklist.NodeRegistry, func(), error) {
	if cfg.ConfigFile != "" {
		fs, err := upstream.NewFileSource(cfg.ConfigFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening config file source: %w", err)
		}
		return fs, fs, func() { fs.Close() }, nil
	}
	hs := upstream.NewHTTPSource(cfg.Nodes, cfg.FetchTimeout)
	return hs, hs, func() {}, nil
}
