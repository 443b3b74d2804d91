package worker

import (
	"context"

	"codedrop/internal/telegram"
)

type JobType int

const (
	Process JobType = iota
	Stop
)

func (t JobType) String() string {
	switch t {
	case Process:
		return "process"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is one inbound update bound for a chat.
type Job struct {
	Type   JobType
	ChatID int64
	Update *telegram.Update
}

// HandlerFunc processes a single update.
type HandlerFunc func(ctx context.Context, update *telegram.Update) error

func newJob(update *telegram.Update) Job {
	job := Job{Type: Process, Update: update}
	if update != nil && update.Message != nil {
		job.ChatID = update.Message.Chat.ID
	}
	return job
}
