// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes the controller's prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/stream"
)

const namespace = "pidlink"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// DeviceMetrics are the controller counters
type DeviceMetrics struct {
	DatagramsReceived  *prometheus.CounterVec // labels: transport=udp|ws
	BytesReceived      prometheus.Counter
	MalformedDatagrams prometheus.Counter
	RequestsTotal      *prometheus.CounterVec // labels: op, id, result
	TransportErrors    *prometheus.CounterVec // labels: direction=recv|send
	StreamSamples      prometheus.Counter
	StreamSendErrors   prometheus.Counter
	StreamRunning      prometheus.Gauge
	WatchdogAutoStops  prometheus.Counter
	SaveErrors         prometheus.Counter
}

// NewDeviceMetrics registers and returns the controller metrics
func NewDeviceMetrics(reg prometheus.Registerer) *DeviceMetrics {
	m := &DeviceMetrics{
		DatagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Datagrams received by transport.",
		}, []string{"transport"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received.",
		}),
		MalformedDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_datagrams_total",
			Help:      "Datagrams dropped because they were not 9 bytes.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Processed requests by opcode, id and result.",
		}, []string{"op", "id", "result"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Datagram send/receive failures.",
		}, []string{"direction"}),
		StreamSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_samples_total",
			Help:      "Telemetry samples delivered.",
		}),
		StreamSendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_send_errors_total",
			Help:      "Telemetry samples that failed to send.",
		}),
		StreamRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_running",
			Help:      "1 while the telemetry stream is running.",
		}),
		WatchdogAutoStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_autostops_total",
			Help:      "Stream stops triggered by the idle timeout.",
		}),
		SaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_errors_total",
			Help:      "Failed writes of the EEPROM image.",
		}),
	}
	reg.MustRegister(
		m.DatagramsReceived, m.BytesReceived, m.MalformedDatagrams, m.RequestsTotal,
		m.TransportErrors, m.StreamSamples, m.StreamSendErrors, m.StreamRunning,
		m.WatchdogAutoStops, m.SaveErrors,
	)
	return m
}

// ObserveRequest counts one dispatched request
func (m *DeviceMetrics) ObserveRequest(op pidproto.Opcode, id pidproto.ID, result pidproto.Result) {
	name := "unknown"
	if id.IsKnown() {
		name = id.Name()
	}
	m.RequestsTotal.WithLabelValues(op.String(), name, result.String()).Inc()
}

// ObserveStreamState tracks the publisher state
func (m *DeviceMetrics) ObserveStreamState(s stream.State) {
	if s == stream.Running {
		m.StreamRunning.Set(1)
		return
	}
	m.StreamRunning.Set(0)
}

// ObserveDatagram counts a received datagram
func (m *DeviceMetrics) ObserveDatagram(transport string, n int) {
	m.DatagramsReceived.WithLabelValues(transport).Inc()
	m.BytesReceived.Add(float64(n))
}

// ObserveMalformed counts a dropped datagram
func (m *DeviceMetrics) ObserveMalformed() {
	m.MalformedDatagrams.Inc()
}

// ObserveTransportError counts a send or receive failure
func (m *DeviceMetrics) ObserveTransportError(direction string) {
	m.TransportErrors.WithLabelValues(direction).Inc()
}
