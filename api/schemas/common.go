package schemas

import (
	"time"
)

// -- Service documents --

// Health is the body of GET /health.
type Health struct {
	Status    string    `json:"status" yaml:"status"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ServiceStatus is the body of GET /.
type ServiceStatus struct {
	Message   string    `json:"message" yaml:"message"`
	Status    string    `json:"status" yaml:"status"`
	Version   string    `json:"version" yaml:"version"`
	Store     string    `json:"database" yaml:"database"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// -- Error Schemas --

// ErrorResponse is returned with every non-2xx status. RetryAfter is set in
// seconds on 429 responses.
type ErrorResponse struct {
	Detail     string `json:"detail" yaml:"detail"`
	RetryAfter int    `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
}

const (
	StatusHealthy = "healthy"
	StatusOnline  = "online"
)
