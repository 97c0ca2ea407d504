/*
Package metrics exposes Prometheus metrics for the gateway.

All collectors are package-level and registered once in init(); the handler
is mounted on GET /status/metrics by pkg/api.

# Metrics

SSH pool:
  - firecrest_ssh_pool_clients{cluster}: live connections per cluster
  - firecrest_ssh_commands_total{cluster,outcome}: executed commands

API:
  - firecrest_api_requests_total{route,method,status}
  - firecrest_api_request_duration_seconds{route,method}

Scheduler backends:
  - firecrest_scheduler_calls_total{cluster,operation,outcome}

Health probing:
  - firecrest_health_check_healthy{target,check}
  - firecrest_health_check_duration_seconds{target,check}

Transfers:
  - firecrest_transfer_jobs_total{cluster,method,direction}
*/
package metrics
