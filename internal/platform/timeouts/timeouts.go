// Package timeouts defines shared timeout constants used across the pipeline.
// Centralizing these values prevents drift between component boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// TransformCall caps a single request to the external text-transform service.
const TransformCall = 20 * time.Second

// ExecuteAction caps the dispatch of one action to the executor.
const ExecuteAction = 6 * time.Second

// ParseScript caps sandboxed evaluation of an action script.
const ParseScript = 2 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
