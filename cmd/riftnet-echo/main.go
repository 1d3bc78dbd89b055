// Command riftnet-echo is a minimal demonstration server: it accepts
// connections, echoes every received packet back to its sender on the same
// channel, and exposes Prometheus metrics over HTTP.
//
// Grounded on the teacher's source/server.Server.Start (bind, spawn the
// update ticker, serve) and runZeroInc-sockstats's cmd/exporter_example2
// for the promhttp wiring.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/lifecycle"
	"github.com/riftnet/riftnet/internal/metrics"
	"github.com/riftnet/riftnet/internal/sender"
	"github.com/riftnet/riftnet/pkg/riftnet"
	"github.com/riftnet/riftnet/pkg/rlog"
)

func main() {
	listenAddr := ":9910"
	metricsAddr := ":9911"
	if len(os.Args) > 1 {
		listenAddr = os.Args[1]
	}
	if len(os.Args) > 2 {
		metricsAddr = os.Args[2]
	}

	collector := metrics.New()
	prometheus.MustRegister(collector)
	go serveMetrics(metricsAddr)

	cfg := config.Default()
	ep, err := riftnet.New(cfg, listenAddr, collector)
	if err != nil {
		rlog.L().Fatalf("riftnet-echo: %v", err)
	}
	ep.Start(50 * time.Millisecond)
	defer ep.Stop()

	rlog.L().Infof("riftnet-echo: listening on %s, metrics on %s", ep.LocalAddr(), metricsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			rlog.L().Info("riftnet-echo: shutting down")
			return
		case <-ticker.C:
			for _, ev := range ep.PollEvents() {
				handleEvent(ep, ev)
			}
		}
	}
}

func handleEvent(ep *riftnet.Endpoint, ev riftnet.Event) {
	switch ev.Kind {
	case lifecycle.EventConnect:
		rlog.L().Infof("riftnet-echo: connect from %s", ev.Addr)
	case lifecycle.EventDisconnect:
		rlog.L().Infof("riftnet-echo: disconnect from %s", ev.Addr)
	case lifecycle.EventReceive:
		ep.Send(ev.Addr, ev.Data, ev.ChannelID, sender.Reliable)
	case lifecycle.EventTimeout:
		rlog.L().Warnf("riftnet-echo: timeout for %s (err=%v)", ev.Addr, ev.Err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "riftnet-echo: metrics server: %v\n", err)
	}
}
