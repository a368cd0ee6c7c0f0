package temporal

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
)

const (
	maxAttempts = 3
	// activitySlack is added to the detection timeout for collection and
	// transport.
	activitySlack      = 5 * time.Minute
	maxActivityTimeout = 24 * time.Hour
)

// AnalysisInput holds the parameters of one namespace run.
type AnalysisInput struct {
	Namespace string         `json:"namespace"`
	Options   cycles.Options `json:"options"`
	TopN      int            `json:"top_n,omitempty"`
	Publish   bool           `json:"publish,omitempty"`
}

// AnalysisOutput is the result of AnalysisWorkflow.
type AnalysisOutput struct {
	Namespace string                       `json:"namespace"`
	Detection *cycles.Result               `json:"detection"`
	Analysis  *depgraph.DependencyAnalysis `json:"analysis"`
	NodeCount int                          `json:"node_count"`
	EdgeCount int                          `json:"edge_count"`
	Published int                          `json:"published,omitempty"`
}

// BatchInput lists the namespaces analyzed by BatchAnalysisWorkflow with
// shared options.
type BatchInput struct {
	Namespaces []string       `json:"namespaces"`
	Options    cycles.Options `json:"options"`
	TopN       int            `json:"top_n,omitempty"`
	Publish    bool           `json:"publish,omitempty"`
}

// BatchOutput carries one report per successful namespace, sorted by
// namespace, and the error text of each failed one.
type BatchOutput struct {
	Reports []*AnalysisOutput `json:"reports"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// AnalysisWorkflow detects cycles in one namespace, then computes its
// metrics. With Publish set, node risk profiles are pushed to the vector
// store last.
func AnalysisWorkflow(ctx workflow.Context, in AnalysisInput) (*AnalysisOutput, error) {
	if err := in.Options.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidOptions", err)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout(in.Options.Timeout),
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    maxAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var a *Activities

	var detected DetectOutput
	if err := workflow.ExecuteActivity(ctx, a.CollectAndDetectActivity, in).Get(ctx, &detected); err != nil {
		return nil, fmt.Errorf("collect and detect %s: %w", in.Namespace, err)
	}

	var analysis depgraph.DependencyAnalysis
	if err := workflow.ExecuteActivity(ctx, a.ComputeMetricsActivity, MetricsInput{Detect: detected, TopN: in.TopN}).Get(ctx, &analysis); err != nil {
		return nil, fmt.Errorf("compute metrics %s: %w", in.Namespace, err)
	}

	out := &AnalysisOutput{
		Namespace: in.Namespace,
		Detection: detected.Detection,
		Analysis:  &analysis,
		NodeCount: len(detected.Nodes),
		EdgeCount: len(detected.Edges),
	}

	if in.Publish {
		if err := workflow.ExecuteActivity(ctx, a.PublishProfilesActivity, PublishInput{Detect: detected, Analysis: &analysis}).Get(ctx, &out.Published); err != nil {
			return nil, fmt.Errorf("publish %s: %w", in.Namespace, err)
		}
	}

	logger.Info("analysis workflow complete", "namespace", in.Namespace, "cycles", len(analysis.CircularDependencies), "published", out.Published)
	return out, nil
}

// BatchAnalysisWorkflow runs one AnalysisWorkflow child per namespace
// concurrently. A failed namespace is reported in Failed and does not stop
// the others.
func BatchAnalysisWorkflow(ctx workflow.Context, in BatchInput) (*BatchOutput, error) {
	if err := in.Options.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidOptions", err)
	}

	namespaces := uniqueSorted(in.Namespaces)

	parent := workflow.GetInfo(ctx).WorkflowExecution.ID
	futures := make([]workflow.ChildWorkflowFuture, len(namespaces))
	for i, ns := range namespaces {
		cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: parent + "/" + ns,
		})
		futures[i] = workflow.ExecuteChildWorkflow(cctx, AnalysisWorkflow, AnalysisInput{
			Namespace: ns,
			Options:   in.Options,
			TopN:      in.TopN,
			Publish:   in.Publish,
		})
	}

	out := &BatchOutput{Reports: []*AnalysisOutput{}}
	for i, f := range futures {
		var rep AnalysisOutput
		if err := f.Get(ctx, &rep); err != nil {
			if out.Failed == nil {
				out.Failed = make(map[string]string)
			}
			out.Failed[namespaces[i]] = err.Error()
			continue
		}
		out.Reports = append(out.Reports, &rep)
	}
	return out, nil
}

func activityTimeout(detect time.Duration) time.Duration {
	if t := detect + activitySlack; t > detect && t < maxActivityTimeout {
		return t
	}
	return maxActivityTimeout
}

func uniqueSorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return slices.Compact(out)
}
