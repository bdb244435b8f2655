package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisProbe"
)

func main() {
	flow, err := aegisprobe.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rt, err := flow.StreamOUT()
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	log.Printf("probe %s polling, agent policy %s", rt.ProbeID(), rt.Describe())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	log.Printf("stopped in state %s, policy %s", rt.ProbeState(), rt.Describe())
}
