// Package observability provides an extension that turns queue lifecycle
// events into OpenTelemetry counters. The engine registers it
// automatically with the configured MeterProvider.
package observability
