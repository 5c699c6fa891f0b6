package agentflow

const (
	// Name is the service name reported in logs and health checks
	Name = "agentflow"

	// Version is the service version
	Version = "1.0.0"
)
