package client

import "time"

// ProgramStatus mirrors internal/registry.ProgramStatus for API consumers
// that don't want to depend on the internal package.
type ProgramStatus struct {
	Name     string `json:"Name"`
	Desired  int    `json:"Desired"`
	Running  int    `json:"Running"`
	Starting int    `json:"Starting"`
	Stopping int    `json:"Stopping"`
	Exited   int    `json:"Exited"`
	Restarts int    `json:"Restarts"`
}

// StopRequest parameterizes a Stop call.
type StopRequest struct {
	Name string
	Wait time.Duration
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
