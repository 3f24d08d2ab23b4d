// Package metrics bundles the instruments used by server and client.
//
// Instruments are go-kit metrics so that callers who do not care can use the
// discard implementations; NewServer/NewClient back them with Prometheus
// collectors registered on the given Registerer.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	LabelService = "service"
	LabelMethod  = "method"
	LabelStatus  = "status"
	LabelOutcome = "outcome"
)

// Server instruments the dispatcher.
type Server struct {
	CallDuration metrics.Histogram // labels: service, method, status
	InFlight     metrics.Gauge     // handlers currently executing
	Connections  metrics.Gauge     // open connections
}

// Client instruments the multiplexer and the call supervisor.
type Client struct {
	CallDuration metrics.Histogram // labels: service, method, outcome
	Pending      metrics.Gauge     // calls awaiting a response
	Discarded    metrics.Counter   // responses for already-retired calls
}

func NopServer() *Server {
	return &Server{
		CallDuration: discard.NewHistogram(),
		InFlight:     discard.NewGauge(),
		Connections:  discard.NewGauge(),
	}
}

func NopClient() *Client {
	return &Client{
		CallDuration: discard.NewHistogram(),
		Pending:      discard.NewGauge(),
		Discarded:    discard.NewCounter(),
	}
}

// NewServer registers the server collectors on reg under namespace.
func NewServer(reg stdprometheus.Registerer, namespace string) *Server {
	duration := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "call_duration_seconds",
		Help:      "Duration of dispatched calls in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{LabelService, LabelMethod, LabelStatus})
	inFlight := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "calls_in_flight",
		Help:      "Number of handlers currently executing.",
	}, []string{})
	conns := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections",
		Help:      "Number of open connections.",
	}, []string{})
	reg.MustRegister(duration, inFlight, conns)

	return &Server{
		CallDuration: prometheus.NewHistogram(duration),
		InFlight:     prometheus.NewGauge(inFlight),
		Connections:  prometheus.NewGauge(conns),
	}
}

// NewClient registers the client collectors on reg under namespace.
func NewClient(reg stdprometheus.Registerer, namespace string) *Client {
	duration := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "call_duration_seconds",
		Help:      "Duration of issued calls in seconds, by terminal outcome.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{LabelService, LabelMethod, LabelOutcome})
	pending := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "pending_calls",
		Help:      "Number of calls awaiting a response.",
	}, []string{})
	discarded := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "discarded_responses_total",
		Help:      "Responses that arrived after their call was retired.",
	}, []string{})
	reg.MustRegister(duration, pending, discarded)

	return &Client{
		CallDuration: prometheus.NewHistogram(duration),
		Pending:      prometheus.NewGauge(pending),
		Discarded:    prometheus.NewCounter(discarded),
	}
}
