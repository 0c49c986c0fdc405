package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clhuang/ticketd/internal/booking"
	"github.com/clhuang/ticketd/internal/config"
	"github.com/clhuang/ticketd/internal/notify"
	"github.com/clhuang/ticketd/internal/scheduler"
	"github.com/clhuang/ticketd/internal/store"
	"github.com/clhuang/ticketd/internal/watchdog"
)

func main() {
	cfg := config.FromEnv()

	if cfg.AttemptCommand == "" {
		log.Fatal("TICKETD_ATTEMPT_CMD is required")
	}

	s, err := store.New(cfg.StoragePath, cfg.Persistence)
	if err != nil {
		log.Fatal(err)
	}

	var notifier booking.Notifier
	if n := notify.NewEmailNotifier(cfg.EmailAPIKey, cfg.FromName, cfg.FromAddress, cfg.NotifyEmail); n != nil {
		notifier = n
	}

	driver := booking.NewDriver(s, booking.NewCommandAttempter(cfg.AttemptCommand), notifier)

	sched := scheduler.New(s, driver, scheduler.Config{
		ScanInterval:  cfg.ScanInterval,
		ErrorBackoff:  cfg.ErrorBackoff,
		PurgeInterval: cfg.PurgeInterval,
		PurgeGrace:    cfg.PurgeGrace,
	})

	wd := watchdog.New(s, sched, watchdog.Config{
		MonitorInterval: cfg.MonitorInterval,
		PurgeGrace:      cfg.PurgeGrace,
	})

	go serveMetrics(cfg.MetricsAddr, sched)

	wd.Start()

	log.Printf("Scheduler daemon started, storage: %s", cfg.StoragePath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down scheduler daemon...")
	wd.Stop()
	sched.Stop()
}

func serveMetrics(addr string, sched *scheduler.Scheduler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sched.Status()); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	})

	log.Printf("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}
