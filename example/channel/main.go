package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisProbe"
)

// Offers a survey every minute while observations stream through a channel.
func main() {
	flow, err := aegisprobe.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := aegisprobe.NewChannelSink("fanout", 32)
	defer closeBatches()
	go fanoutWorker("nearby", batches)

	rt, err := flow.StreamOUT(aegisprobe.StreamOutSink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.Shutdown(shutdownCtx); err != nil {
				log.Fatalf("shutdown: %v", err)
			}
			return
		case <-ticker.C:
			offer, err := rt.Offer(ctx, aegisprobe.Candidate{})
			if err != nil {
				log.Printf("offer: %v", err)
				continue
			}
			fmt.Printf("survey %s deliver=%v at %s (%s)\n",
				offer.Request.ID(), offer.Decision.Deliver, offer.Request.ScheduledAt().Format(time.RFC3339), rt.Describe())
		}
	}
}

func fanoutWorker(name string, batches <-chan []aegisprobe.Observation) {
	for batch := range batches {
		fmt.Printf("[%s] %d devices seen at %s\n", name, len(batch), time.Now().Format(time.RFC3339))
	}
}
