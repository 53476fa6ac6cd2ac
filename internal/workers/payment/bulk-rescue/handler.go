// internal/workers/payment/bulk-rescue/handler.go
package bulkrescue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entitlement-workers/internal/activation"
	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/metrics"
	"entitlement-workers/internal/common/observability"
	"entitlement-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "bulk-rescue"
)

type Rescuer interface {
	BulkRescue(ctx context.Context, references []string, emailOverrides map[string]string) []activation.RescueResult
}

type Handler struct {
	config       *Config
	rescuer      Rescuer
	validator    *validation.Validator
	errorHandler *apperrors.ErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, rescuer Rescuer, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		rescuer:      rescuer,
		validator:    validator,
		errorHandler: apperrors.NewErrorHandler(l),
		obs:          obs,
		logger:       l,
	}
}

// Handle completes the job whenever the batch ran, even if every reference
// failed. Per-reference failures are data in the output, not job errors.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.decodeAndExecute(ctx, job)
	if err != nil {
		code := string(apperrors.AsStandardError(err).Code)
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, code).Inc()
		h.obs.RecordJobProcessed(ctx, TaskType, "failed")
		h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
		h.errorHandler.HandleJobError(context.Background(), client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "completed")
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "completed")
}

func (h *Handler) decodeAndExecute(ctx context.Context, job entities.Job) (*Output, error) {
	if err := h.validator.ValidateInput(TaskType, job.Variables); err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, apperrors.NewValidationError("parse input: " + err.Error())
	}
	return h.execute(ctx, &input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if len(input.References) == 0 {
		return nil, apperrors.NewValidationError("references must not be empty")
	}
	if len(input.References) > h.config.MaxReferences {
		return nil, apperrors.NewValidationError(fmt.Sprintf("at most %d references per batch", h.config.MaxReferences))
	}

	results := h.rescuer.BulkRescue(ctx, input.References, input.EmailOverrides)
	activated, skipped, failed := activation.Tally(results)

	h.logger.Info("bulk rescue finished", map[string]interface{}{
		"requested": len(input.References),
		"activated": activated,
		"skipped":   skipped,
		"failed":    failed,
	})

	return &Output{
		Results:   results,
		Activated: activated,
		Skipped:   skipped,
		Failed:    failed,
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
