// Package metrics exposes debug instrumentation counters. The listener is
// off unless a debug address is configured.
package metrics

import (
	"net/http"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachchat_messages_sent_total",
		Help: "Messages queued for sending by the local user.",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachchat_messages_received_total",
		Help: "Messages ingested from the backend.",
	})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachchat_reconciliations_total",
		Help: "Optimistic sends merged with their server echo, by matching rule.",
	}, []string{"rule"})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachchat_reconnects_total",
		Help: "Socket reconnection attempts.",
	})

	ChatsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachchat_chats_created_total",
		Help: "Conversations created by this client.",
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachchat_uploads_total",
		Help: "File uploads by outcome.",
	}, []string{"status"})
)

// Serve exposes /metrics on the given address. Errors are logged, not
// fatal: instrumentation must never take the client down.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			glog.Errorf("metrics: listener on %s failed: %v", addr, err)
		}
	}()
}
