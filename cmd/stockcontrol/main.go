package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stockcontrol/internal/api"
	"stockcontrol/internal/backends"
	"stockcontrol/internal/catalog"
	"stockcontrol/internal/flow"
	"stockcontrol/internal/ledger"
	"stockcontrol/internal/maintenance"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/snapshot"
	"stockcontrol/internal/types"
	"stockcontrol/internal/viewer"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const AdminTokenEnvKey = "ADMIN_TOKEN"

func main() {
	exportPath := flag.String("export", "", "write every stored record to this file (zstd JSON lines) and exit")
	importPath := flag.String("import", "", "load records from a file written by -export and exit")
	flag.Parse()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}
	configureLogging()

	settings, warnings, err := types.SettingsFromEnv()
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx := context.Background()
	store, err := backends.StoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize state store: %v", err)
	}

	switch {
	case *exportPath != "":
		os.Exit(runSnapshot(ctx, store, *exportPath, true))
	case *importPath != "":
		os.Exit(runSnapshot(ctx, store, *importPath, false))
	}

	if err := serve(ctx, store, settings); err != nil {
		log.WithError(err).Error("stockcontrol stopped with an error")
		os.Exit(1)
	}
}

func configureLogging() {
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func runSnapshot(ctx context.Context, store ports.StateStore, path string, export bool) int {
	defer func() {
		_ = store.Close()
	}()
	var (
		n   snapshot.Counts
		err error
	)
	if export {
		f, ferr := os.Create(path)
		if ferr != nil {
			log.WithError(ferr).Error("cannot create snapshot file")
			return 1
		}
		n, err = snapshot.Export(ctx, store, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	} else {
		f, ferr := os.Open(path)
		if ferr != nil {
			log.WithError(ferr).Error("cannot open snapshot file")
			return 1
		}
		n, err = snapshot.Import(ctx, store, f)
		_ = f.Close()
	}
	if err != nil {
		log.WithError(err).WithField("path", path).Error("snapshot failed")
		return 1
	}
	log.WithFields(log.Fields{"path": path, "trades": n.Trades, "pools": n.Pools}).Info("snapshot done")
	return 0
}

func serve(ctx context.Context, store ports.StateStore, settings types.Settings) error {
	holder, err := catalog.NewFileHolder(settings.CatalogFile)
	if err != nil {
		_ = store.Close()
		return err
	}
	pusher, err := backends.PusherFromEnv(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}
	mapping, err := api.MappingFromEnv()
	if err != nil {
		_ = store.Close()
		return err
	}

	svc := newService(holder, store, pusher, settings)
	stop, done := api.RunServerInterruptible(settings.HTTPPort, api.NewHandler(svc.engine, mapping, os.Getenv(AdminTokenEnvKey)))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	return svc.run(ctx, stop, done, signals)
}

// service is the wired engine plus everything shutdown has to stop, in order.
type service struct {
	holder *catalog.Holder
	store  ports.StateStore
	stock  *ledger.Stock
	coord  *viewer.Coordinator
	sched  *maintenance.Scheduler
	engine *flow.Engine
}

func newService(holder *catalog.Holder, store ports.StateStore, pusher ports.DisplayPusher, settings types.Settings) *service {
	stock := ledger.New(holder, store, settings)
	coord := viewer.NewCoordinator(stock, pusher, settings)
	presence := flow.NewPresence()
	sched := maintenance.New(stock, presence, settings)
	sched.Start()
	return &service{
		holder: holder,
		store:  store,
		stock:  stock,
		coord:  coord,
		sched:  sched,
		engine: flow.NewEngine(holder, stock, coord, sched, presence),
	}
}

// run reloads the catalog on SIGHUP and shuts down on any other signal or when the server fails.
// The server is drained before the final flush so no request can record a trade after it.
func (svc *service) run(ctx context.Context, stop chan<- struct{}, done <-chan error, signals <-chan os.Signal) error {
	var serveErr error
loop:
	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				reloadCtx, cancel := context.WithTimeout(ctx, time.Minute)
				if err := svc.engine.Reload(reloadCtx); err != nil {
					log.WithError(err).Error("catalog reload rejected, keeping the live catalog")
				} else {
					log.WithField("file", svc.holder.Path()).Info("catalog reloaded")
				}
				cancel()
				continue
			}
			log.WithField("signal", sig.String()).Info("shutting down")
			stop <- struct{}{}
			serveErr = <-done
			break loop
		case serveErr = <-done:
			break loop
		}
	}

	svc.coord.Close()
	flushErr := svc.sched.Stop()
	svc.stock.Close()
	if err := svc.store.Close(); err != nil {
		log.WithError(err).Warn("failed to close state store")
	}
	if serveErr != nil {
		return serveErr
	}
	return flushErr
}
