// Package server exposes the runner over HTTP.
//
// POST /invoke streams one turn as server-sent events, one JSON object per
// "data:" frame, in the order the runner produces them. A turn ends with a
// final_message frame or with exactly one {"error": "..."} frame. GET /ping
// is the liveness check and GET /metrics serves Prometheus metrics when a
// metrics handler is configured.
package server
