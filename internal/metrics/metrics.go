// Package metrics holds Prometheus instruments shared by the pool cache,
// router, and persistence layer.  All collectors are registered with the
// global registry, so mounting promhttp.Handler() is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OpenConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantdb_open_connections",
			Help: "Number of shard pools currently cached.",
		})

	ConnectionBuildTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantdb_connection_build_total",
			Help: "Cumulative number of shard pools constructed.",
		})

	ConnectionBuildErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantdb_connection_build_errors_total",
			Help: "Cumulative number of failed shard pool constructions.",
		})

	ConnectionHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantdb_connection_hits_total",
			Help: "Cumulative number of pool cache hits.",
		})

	ConnectionEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantdb_connection_evict_total",
			Help: "Cumulative number of shard pools evicted from the cache.",
		})

	ReplicaUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantdb_replica_unavailable_total",
			Help: "Read replicas dropped because they could not be reached.",
		})

	RouteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantdb_route_errors_total",
			Help: "Routing failures by resolution mode.",
		}, []string{"mode"})

	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantdb_writes_total",
			Help: "Write operations by op and outcome.",
		}, []string{"op", "outcome"})
)

func init() {
	prometheus.MustRegister(
		OpenConnections,
		ConnectionBuildTotal,
		ConnectionBuildErrorsTotal,
		ConnectionHitsTotal,
		ConnectionEvictTotal,
		ReplicaUnavailableTotal,
		RouteErrorsTotal,
		WritesTotal,
	)
}
