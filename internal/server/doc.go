// Package server implements the HTTP monitoring API for a running
// pipeline: health, statistics, effective configuration and Prometheus
// metrics.
package server
