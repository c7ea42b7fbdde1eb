package mux

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollserver_accepted_connections_total",
		Help: "Connections accepted by the readiness loop.",
	})
	disconnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollserver_disconnected_connections_total",
		Help: "Connections removed from the registry.",
	})
	bytesReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollserver_bytes_read_total",
		Help: "Payload bytes handed to handler OnData callbacks.",
	})
	dispatchPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollserver_dispatch_passes_total",
		Help: "Completed dispatch passes over the watched set.",
	})
)
