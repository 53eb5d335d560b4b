package models

import "time"

// NodeSnapshot holds the metric facts of one broker node at poll time.
type NodeSnapshot struct {
	Name          string   `json:"name"`
	Running       bool     `json:"running"`
	MemAlarm      bool     `json:"mem_alarm"`
	DiskFreeAlarm bool     `json:"disk_free_alarm"`
	Partitions    []string `json:"partitions"`

	MemUsed       int64 `json:"mem_used"`
	MemLimit      int64 `json:"mem_limit"`
	DiskFree      int64 `json:"disk_free"`
	DiskFreeLimit int64 `json:"disk_free_limit"`
	FDUsed        int64 `json:"fd_used"`
	FDTotal       int64 `json:"fd_total"`
	SocketsUsed   int64 `json:"sockets_used"`
	SocketsTotal  int64 `json:"sockets_total"`
	ProcUsed      int64 `json:"proc_used"`
	ProcTotal     int64 `json:"proc_total"`

	// RunQueue is nil when the broker did not report it.
	RunQueue *int64 `json:"run_queue,omitempty"`
}

// QueueSnapshot holds the metric facts of one queue at poll time.
type QueueSnapshot struct {
	Name                   string  `json:"name"`
	VHost                  string  `json:"vhost"`
	Messages               int64   `json:"messages"`
	MessagesReady          int64   `json:"messages_ready"`
	MessagesUnacknowledged int64   `json:"messages_unacknowledged"`
	Consumers              int64   `json:"consumers"`
	PublishRate            float64 `json:"publish_rate"`
	DeliverRate            float64 `json:"deliver_rate"`

	// IdleSince is nil when the queue is not idle or the broker omitted it.
	IdleSince *time.Time `json:"idle_since,omitempty"`
}

// EffectiveVHost returns the queue vhost, defaulting to "/".
func (q *QueueSnapshot) EffectiveVHost() string {
	if q.VHost == "" {
		return DefaultVHost
	}
	return q.VHost
}
