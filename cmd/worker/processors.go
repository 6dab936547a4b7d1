package main

import (
	"context"
	"log/slog"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/queue"
	"github.com/advisoros/taskqueue/internal/workflow"
)

// registerProcessors installs the processors this worker serves. Every
// registration is wrapped so that items enqueued by the dependency resolver
// also complete their workflow step on success.
//
// The built-in processors only acknowledge the item; deployments replace them
// with real implementations per item type.
func registerProcessors(registry *queue.Registry, resolver *workflow.Resolver, log *slog.Logger) {
	ack := func(itemType string) queue.Processor {
		return queue.ProcessorFunc(func(ctx context.Context, item *domain.QueueItem) queue.Result {
			log.Info("processed queue item",
				slog.String("item_type", itemType),
				slog.String("item_id", item.ID.String()),
				slog.String("entity_id", item.EntityID))
			return queue.Result{Success: true}
		})
	}

	for _, itemType := range []string{
		domain.ItemTypeWorkflowStep,
		domain.ItemTypeNotification,
		domain.ItemTypeReportGeneration,
	} {
		registry.Register(itemType, workflow.WrapProcessor(ack(itemType), resolver, log))
	}

	log.Info("registered processors", slog.Any("item_types", registry.Types()))
}
