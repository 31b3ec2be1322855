package services

import (
	"context"

	"github.com/google/uuid"

	redisbus "github.com/labgraph/labgraph-backend/internal/clients/redis"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/sse"
)

// JobNotifier publishes job lifecycle events on the lab's channel. Events
// are advisory; job state of record always lives in postgres.
type JobNotifier interface {
	JobQueued(labID uuid.UUID, job *types.ProcessingJob)
	JobProgress(labID uuid.UUID, job *types.ProcessingJob, pct int, processed int, total *int)
	JobFailed(labID uuid.UUID, job *types.ProcessingJob, errorMessage string)
	JobCompleted(labID uuid.UUID, job *types.ProcessingJob)
	JobCancelled(labID uuid.UUID, job *types.ProcessingJob)
	SchemaActivated(labID uuid.UUID, schemaID uuid.UUID, version int)
}

type jobNotifier struct {
	bus redisbus.EventBus
	log *logger.Logger
}

func NewJobNotifier(bus redisbus.EventBus, baseLog *logger.Logger) JobNotifier {
	return &jobNotifier{
		bus: bus,
		log: baseLog.With("service", "JobNotifier"),
	}
}

func (n *jobNotifier) publish(msg sse.SSEMessage) {
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(context.Background(), msg); err != nil {
		n.log.Warn("Failed to publish job event", "event", msg.Event, "error", err)
	}
}

func (n *jobNotifier) JobQueued(labID uuid.UUID, job *types.ProcessingJob) {
	n.publish(sse.SSEMessage{
		Channel: labID.String(),
		Event:   sse.SSEEventJobQueued,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobProgress(labID uuid.UUID, job *types.ProcessingJob, pct int, processed int, total *int) {
	n.publish(sse.SSEMessage{
		Channel: labID.String(),
		Event:   sse.SSEEventJobProgress,
		Data: map[string]any{
			"job_id":          job.ID,
			"job_type":        job.JobType,
			"progress":        pct,
			"processed_items": processed,
			"total_items":     total,
		},
	})
}

func (n *jobNotifier) JobFailed(labID uuid.UUID, job *types.ProcessingJob, errorMessage string) {
	n.publish(sse.SSEMessage{
		Channel: labID.String(),
		Event:   sse.SSEEventJobFailed,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"error":    errorMessage,
		},
	})
}

func (n *jobNotifier) JobCompleted(labID uuid.UUID, job *types.ProcessingJob) {
	n.publish(sse.SSEMessage{
		Channel: labID.String(),
		Event:   sse.SSEEventJobCompleted,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"job":      job,
		},
	})
}

func (n *jobNotifier) JobCancelled(labID uuid.UUID, job *types.ProcessingJob) {
	n.publish(sse.SSEMessage{
		Channel: labID.String(),
		Event:   sse.SSEEventJobCancelled,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
		},
	})
}

func (n *jobNotifier) SchemaActivated(labID uuid.UUID, schemaID uuid.UUID, version int) {
	n.publish(sse.SSEMessage{
		Channel: labID.String(),
		Event:   sse.SSEEventSchemaActivated,
		Data: map[string]any{
			"schema_id": schemaID,
			"version":   version,
		},
	})
}
