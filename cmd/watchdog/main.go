package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clhuang/ticketd/internal/config"
	"github.com/clhuang/ticketd/internal/store"
	"github.com/clhuang/ticketd/internal/watchdog"
)

func main() {
	statusOnly := flag.Bool("status", false, "show current status and exit")
	flag.Parse()

	cfg := config.FromEnv()

	s, err := store.New(cfg.StoragePath, cfg.Persistence)
	if err != nil {
		log.Fatal(err)
	}

	if *statusOnly {
		printStatus(s)
		return
	}

	// Standalone mode: the writer daemon owns the scheduling loop, this
	// process only monitors the shared store.
	wd := watchdog.New(s, nil, watchdog.Config{
		MonitorInterval: cfg.MonitorInterval,
		PurgeGrace:      cfg.PurgeGrace,
	})

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	wd.Start()
	wd.ReportStatus()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down watchdog...")
	wd.Stop()
}

func printStatus(s *store.Store) {
	sum := s.Status()
	fmt.Printf("Storage: %s\n", sum.StoragePath)
	fmt.Printf("Total Tasks: %d\n", sum.TotalTasks)
	if len(sum.Counts) == 0 {
		fmt.Println("No scheduled tasks found.")
		return
	}
	fmt.Printf("Status Breakdown: %v\n", sum.Counts)
}
