// Package timeouts defines shared timeout constants used across the
// coordinator. Centralizing these values prevents drift between boundaries
// and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// PopulationLookup caps a single request to an external population service.
const PopulationLookup = 10 * time.Second
