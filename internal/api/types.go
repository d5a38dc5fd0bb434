package api

import "github.com/mattjoyce/aibridge/internal/ledger"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Capabilities  []string `json:"capabilities"`
	LedgerEnabled bool     `json:"ledger_enabled"`
}

// InvocationListResponse is returned by GET /v1/invocations.
type InvocationListResponse struct {
	Invocations []*ledger.Entry `json:"invocations"`
	Count       int             `json:"count"`
}
