// internal/workers/payment/activate-by-reference/handler.go
package activatebyreference

import (
	"context"
	"encoding/json"
	"strings"
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
	TaskType = "activate-by-reference"
)

type ReferenceActivator interface {
	ActivateByReference(ctx context.Context, reference string, opts activation.RescueOptions) (*activation.Result, error)
}

type Handler struct {
	config       *Config
	activator    ReferenceActivator
	validator    *validation.Validator
	errorHandler *apperrors.ErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, activator ReferenceActivator, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		activator:    activator,
		validator:    validator,
		errorHandler: apperrors.NewErrorHandler(l),
		obs:          obs,
		logger:       l,
	}
}

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
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, apperrors.NewValidationError("reference is required")
	}

	result, err := h.activator.ActivateByReference(ctx, reference, activation.RescueOptions{
		EmailOverride: strings.TrimSpace(input.Email),
		ItemIDHint:    input.ItemID,
		Source:        TaskType,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		EntitlementID: result.Entitlement.ID,
		SubjectID:     result.SubjectID,
		ItemID:        result.Entitlement.ItemID,
		AmountPaid:    result.Entitlement.AmountPaid,
		Currency:      result.Entitlement.Currency,
		Username:      result.Credential.Username,
		Secret:        result.Credential.Secret,
		Host:          result.Credential.Host,
		Tier:          string(result.Credential.Tier),
		Created:       result.Created,
		Degraded:      result.Degraded,
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
