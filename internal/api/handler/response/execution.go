package response

import "flow/internal/api/service"

type Status struct {
	service.ExecutionStatus
	UpstreamConnected bool `json:"upstreamConnected"`
}
