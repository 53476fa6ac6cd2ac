// internal/common/errors/handler.go
package errors

import (
	"context"
	"encoding/json"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler turns a worker error into either a failed job that Zeebe
// retries or a BPMN error the process model catches.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError reports err for job. Transient failures (database, provider
// outage) fail the job with retries; everything else is thrown as a BPMN error.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := AsStandardError(err)
	bpmnErr := ConvertToBPMNError(stdErr)
	retries := RetriesFor(bpmnErr, job.Retries)

	h.logError(job, stdErr, bpmnErr, retries)

	vars := encodeVariables(bpmnErr)
	var sendErr error
	if retries > 0 {
		sendErr = h.failJob(ctx, client, job.Key, bpmnErr, retries, vars)
	} else {
		sendErr = h.throwBPMNError(ctx, client, job.Key, bpmnErr, vars)
	}
	if sendErr != nil {
		h.logger.Error("Failed to report job error to Zeebe", map[string]interface{}{
			"jobKey":        job.Key,
			"bpmnErrorCode": bpmnErr.Code,
			"error":         sendErr.Error(),
		})
	}
}

// RetriesFor caps the retries a BPMN error asks for at what Zeebe has left.
// Zero means the error must be thrown instead of retried.
func RetriesFor(bpmnErr *BPMNError, remaining int32) int {
	if bpmnErr.Retries <= 0 || remaining <= 0 {
		return 0
	}
	if int(remaining) < bpmnErr.Retries {
		return int(remaining)
	}
	return bpmnErr.Retries
}

func encodeVariables(bpmnErr *BPMNError) string {
	data, err := json.Marshal(bpmnErr.ToErrorVariables())
	if err != nil {
		return ""
	}
	return string(data)
}

func (h *ErrorHandler) failJob(ctx context.Context, client worker.JobClient, jobKey int64, bpmnErr *BPMNError, retries int, vars string) error {
	cmd := client.NewFailJobCommand().
		JobKey(jobKey).
		Retries(int32(retries)).
		ErrorMessage(bpmnErr.Message)

	if vars != "" {
		if withVars, err := cmd.VariablesFromString(vars); err == nil {
			_, err = withVars.Send(ctx)
			return err
		}
	}
	_, err := cmd.Send(ctx)
	return err
}

func (h *ErrorHandler) throwBPMNError(ctx context.Context, client worker.JobClient, jobKey int64, bpmnErr *BPMNError, vars string) error {
	cmd := client.NewThrowErrorCommand().
		JobKey(jobKey).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)

	if vars != "" {
		if withVars, err := cmd.VariablesFromString(vars); err == nil {
			_, err = withVars.Send(ctx)
			return err
		}
	}
	_, err := cmd.Send(ctx)
	return err
}

func (h *ErrorHandler) logError(job entities.Job, stdErr *StandardError, bpmnErr *BPMNError, retries int) {
	fields := map[string]interface{}{
		"jobKey":          job.Key,
		"jobType":         job.Type,
		"processInstance": job.ProcessInstanceKey,
		"errorCode":       string(stdErr.Code),
		"bpmnErrorCode":   bpmnErr.Code,
		"message":         bpmnErr.Message,
		"details":         stdErr.Details,
		"errorCategory":   GetErrorCategory(stdErr.Code),
		"retriesLeft":     retries,
	}
	if ref, ok := stdErr.Metadata["reference"]; ok {
		fields["reference"] = ref
	}
	h.logger.Error("Job failed", fields)
}
