/*
Package metrics provides Prometheus metrics and health/readiness reporting
for dynadns.

All metrics are package-level collectors registered with the default
registry at init time and exposed by Handler on the API listener's /metrics.

# Metrics

Monitoring:
  - dynadns_monitor_checks_total{service_type,result}
  - dynadns_monitor_check_duration_seconds{service_type}
  - dynadns_monitor_check_timeouts_total{service_type}
  - dynadns_monitor_transitions_total{service_type,state}
  - dynadns_endpoints{service_type,state} (refreshed by the manager's collector)

Resolution:
  - dynadns_resolve_total{plugin,state}
  - dynadns_resolve_fallbacks_total{plugin}
  - dynadns_map_errors_total{plugin}

DNS:
  - dynadns_queries_total{qtype,rcode}
  - dynadns_query_duration_seconds
  - dynadns_zone_reloads_total{result}

# Timing

Timer wraps the common observe-elapsed-seconds pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CheckDuration, st.Name)

Readiness is not tracked here; package api reports it from the checks the
manager registers.
*/
package metrics
