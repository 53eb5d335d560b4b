package models

// Threshold is a warning/critical bound pair.
type Threshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// MetricThresholds is the immutable set of bounds used for one analysis pass.
//
// Memory, FileDescriptors, Sockets and Processes are usage percentages where
// higher is worse. Disk is a free-space percentage where lower is worse.
// ConsumerUtilization is a minimum percentage; only Warning is evaluated.
type MetricThresholds struct {
	Memory              Threshold `json:"memory" yaml:"memory"`
	Disk                Threshold `json:"disk" yaml:"disk"`
	FileDescriptors     Threshold `json:"file_descriptors" yaml:"file_descriptors"`
	Sockets             Threshold `json:"sockets" yaml:"sockets"`
	Processes           Threshold `json:"processes" yaml:"processes"`
	QueueMessages       Threshold `json:"queue_messages" yaml:"queue_messages"`
	UnackedMessages     Threshold `json:"unacked_messages" yaml:"unacked_messages"`
	ConsumerUtilization Threshold `json:"consumer_utilization" yaml:"consumer_utilization"`
	RunQueue            Threshold `json:"run_queue" yaml:"run_queue"`
}

// DefaultThresholds returns the hardcoded system-wide bounds.
func DefaultThresholds() MetricThresholds {
	return MetricThresholds{
		Memory:              Threshold{Warning: 80, Critical: 95},
		Disk:                Threshold{Warning: 20, Critical: 10},
		FileDescriptors:     Threshold{Warning: 80, Critical: 90},
		Sockets:             Threshold{Warning: 80, Critical: 90},
		Processes:           Threshold{Warning: 80, Critical: 90},
		QueueMessages:       Threshold{Warning: 10000, Critical: 50000},
		UnackedMessages:     Threshold{Warning: 1000, Critical: 5000},
		ConsumerUtilization: Threshold{Warning: 50, Critical: 20},
		RunQueue:            Threshold{Warning: 10, Critical: 20},
	}
}
