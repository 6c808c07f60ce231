/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/kentakayama/zeus-over-http/internal/signer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	streamed *prometheus.CounterVec
	signing  *prometheus.HistogramVec
	imports  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zeus",
			Name:      "requests_total",
			Help:      "Device requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		streamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zeus",
			Name:      "streamed_bytes_total",
			Help:      "Bytes written to devices.",
		}, []string{"kind"}),
		signing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zeus",
			Name:      "signing_duration_seconds",
			Help:      "Time spent signing challenges.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"result"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zeus",
			Name:      "imports_total",
			Help:      "Imports through the admin API by final state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.streamed, m.signing, m.imports,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(kind model.DeliveryKind, outcome model.DeliveryOutcome, bytes int64) {
	m.requests.WithLabelValues(string(kind), string(outcome)).Inc()
	if bytes > 0 {
		m.streamed.WithLabelValues(string(kind)).Add(float64(bytes))
	}
}

// Resolver wraps next so every signer it returns is timed.
func (m *Metrics) Resolver(next signer.Resolver) signer.Resolver {
	return timedResolver{next: next, hist: m.signing}
}

type timedResolver struct {
	next signer.Resolver
	hist *prometheus.HistogramVec
}

func (t timedResolver) Resolve(ref string) (signer.Signer, error) {
	s, err := t.next.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return signer.SignerFunc(func(ctx context.Context, message []byte, keyRef string) ([]byte, error) {
		start := time.Now()
		sig, err := s.Sign(ctx, message, keyRef)
		result := "ok"
		if err != nil {
			result = "error"
		}
		t.hist.WithLabelValues(result).Observe(time.Since(start).Seconds())
		return sig, err
	}), nil
}
