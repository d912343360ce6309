// wfs-invalidate publishes a dataset change event so running servers drop
// their cached feature store for the source.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/wfs-query/internal/core/config"
	"github.com/mohammed-shakir/wfs-query/internal/invalidation"
	"github.com/mohammed-shakir/wfs-query/internal/invalidation/kafkapublisher"
	"github.com/mohammed-shakir/wfs-query/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	brokers := flag.String("brokers", strings.Join(cfg.Invalidation.Brokers, ","), "Kafka brokers (comma separated)")
	topic := flag.String("topic", cfg.Invalidation.Topic, "invalidation topic")
	op := flag.String("op", invalidation.OpUpdate, "change kind: update|delete")
	source := flag.String("source", "", "source id that changed")
	also := flag.String("also", "", "further source ids touched by the same change (comma separated)")
	timeout := flag.Duration("timeout", 10*time.Second, "publish timeout")
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "wfs-invalidate",
	}, os.Stderr)
	appLog := logger.NewSlog(&zl)

	ev := invalidation.Event{
		Version: 1,
		Op:      *op,
		Source:  strings.TrimSpace(*source),
		TS:      time.Now().UTC(),
	}
	for s := range strings.SplitSeq(*also, ",") {
		if s = strings.TrimSpace(s); s != "" {
			ev.Sources = append(ev.Sources, s)
		}
	}
	if err := ev.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid event: %v\n", err)
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	pub, err := kafkapublisher.Dial(strings.Split(*brokers, ","), *topic, appLog)
	if err != nil {
		appLog.Error("connect", "err", err)
		return 1
	}
	if err := pub.Publish(ctx, ev); err != nil {
		appLog.Error("publish", "err", err)
		_ = pub.Close()
		return 1
	}
	if err := pub.Close(); err != nil {
		appLog.Error("flush", "err", err)
		return 1
	}
	appLog.Info("invalidation published", "source", ev.Source, "op", ev.Op, "targets", ev.Targets())
	return 0
}
