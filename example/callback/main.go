package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisProbe/pkg/aegisprobe"
)

func main() {
	flow, err := aegisprobe.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []aegisprobe.Observation) error {
		for _, o := range batch {
			fmt.Printf("%s probe=%s sensor=%s seq=%d values=%v\n",
				o.Timestamp.Format(time.RFC3339Nano),
				o.ProbeID,
				o.SensorID,
				o.Seq,
				o.Values,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, aegisprobe.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
