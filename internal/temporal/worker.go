package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker serving the analysis
// workflows.
func StartWorker(c client.Client, taskQueue string, acts *Activities) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(AnalysisWorkflow)
	w.RegisterWorkflow(BatchAnalysisWorkflow)
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// RunBatch starts BatchAnalysisWorkflow and waits for its result.
func RunBatch(ctx context.Context, c client.Client, taskQueue, workflowID string, in BatchInput) (*BatchOutput, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: taskQueue,
	}, BatchAnalysisWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("start batch workflow: %w", err)
	}

	var out BatchOutput
	if err := run.Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("batch workflow %s: %w", run.GetID(), err)
	}
	return &out, nil
}
