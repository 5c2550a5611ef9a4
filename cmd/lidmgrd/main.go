// Command lidmgrd runs the LID Manager as a standalone daemon: it loads
// persisted guid->LID assignments, re-derives them every sweep against
// the discovered fabric state, and serves a read-only diagnostics
// endpoint over the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"github.com/libopensm/lidmgrd/internal/logger"
	"github.com/libopensm/lidmgrd/lidmgr"
	"github.com/libopensm/lidmgrd/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("lidmgrd exited with an error", logger.Ctx{"err": err})
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "lidmgrd",
		Short: "Run the LID Manager daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return run(context.Background(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	return cmd
}

func openBackend(cfg config) (store.Store, error) {
	var backend store.Store

	switch cfg.Backend {
	case "sqlite":
		sqlStore, err := store.OpenSQLStore(cfg.StoragePath)
		if err != nil {
			return nil, err
		}

		backend = sqlStore
	case "file", "":
		backend = store.NewFileStore(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if err := backend.Init(context.Background(), "/guid2lid"); err != nil {
		return nil, err
	}

	return backend, nil
}

func run(ctx context.Context, cfg config) error {
	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("Failed opening persistence backend: %w", err)
	}
	defer backend.Close()

	records, err := backend.Restore(ctx)
	if err != nil {
		if cfg.ExitOnFatal {
			return fmt.Errorf("Failed restoring guid2lid store: %w", err)
		}

		logger.Error("Failed restoring guid2lid store, starting empty", logger.Ctx{"err": err})
		records = nil
	}

	sweep := lidmgr.NewSweep(cfg.toOptions())
	sweep.FirstTimeMasterSweep = true

	for guid, mm := range records {
		sweep.Guid2Lid.Set(lidmgr.GUID(guid), mm[0], mm[1])
	}

	driver := lidmgr.NewDriver(sweep, noFabric{}, noFabric{}, backend)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// sweepLock ensures process_sm/process_subnet from two overlapping
	// timer ticks never interleave; the allocator itself assumes its
	// caller already serializes sweeps (spec.md §5).
	sweepLock := semaphore.NewWeighted(1)

	doSweep := func() {
		if !sweepLock.TryAcquire(1) {
			logger.Warn("Skipping sweep tick, previous sweep still running")
			return
		}
		defer sweepLock.Release(1)

		if _, err := driver.ProcessSM(runCtx); err != nil {
			logger.Error("process_sm failed", logger.Ctx{"err": err})
			if lidmgr.IsFatal(err) && cfg.ExitOnFatal {
				cancel()
			}

			return
		}

		if _, err := driver.ProcessSubnet(runCtx); err != nil {
			logger.Error("process_subnet failed", logger.Ctx{"err": err})
			if lidmgr.IsFatal(err) && cfg.ExitOnFatal {
				cancel()
			}
		}
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", cfg.SweepSeconds)
	if _, err := c.AddFunc(spec, doSweep); err != nil {
		return fmt.Errorf("Failed scheduling sweep interval %q: %w", spec, err)
	}

	c.Start()
	defer c.Stop()

	srv := newDiagServer(cfg.ListenAddr, driver)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("diagnostics server stopped unexpectedly", logger.Ctx{"err": err})
		}
	}()
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("lidmgrd received shutdown signal")
	case <-runCtx.Done():
		return fmt.Errorf("lidmgrd stopped after a fatal sweep error")
	}

	return nil
}

// newDiagServer wires the gorilla/mux status endpoint (spec.md §5):
// GET /1.0/diag returns the allocator's current snapshot, taken under
// the shared (read) lock so it never blocks an in-progress sweep.
func newDiagServer(addr string, driver *lidmgr.Driver) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/1.0/diag", func(w http.ResponseWriter, req *http.Request) {
		snapshot := driver.DumpState()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			logger.Error("Failed encoding diagnostics response", logger.Ctx{"err": err})
		}
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
