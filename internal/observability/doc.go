// Package observability provides the JSONL event log, the telemetry
// capability, logger setup, and metrics and alerts derived on demand from
// the event log.
package observability
