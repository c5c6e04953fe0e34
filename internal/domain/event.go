package domain

import "time"

// QueueEvent is published to observers after every queue change
type QueueEvent struct {
	Running   bool               `json:"running"`
	Stats     DownloadStats      `json:"stats"`
	Queue     []DownloadSnapshot `json:"queue"`
	Timestamp time.Time          `json:"timestamp"`
}
