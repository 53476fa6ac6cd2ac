// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	// outcome: created, existing, failed
	EntitlementActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_activations_total",
			Help: "Activation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// tier: isolated, shared, placeholder
	CredentialsProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_provisioning_total",
			Help: "Credentials issued per provisioning tier",
		},
		[]string{"tier"},
	)

	// kind: quota, transient
	ProvisioningFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_provisioning_failures_total",
			Help: "Isolated-account creation failures that fell through to the next tier",
		},
		[]string{"kind"},
	)

	PaymentVerificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verification_failures_total",
			Help: "Payment verifications that did not yield a verified payment",
		},
		[]string{"provider", "code"},
	)

	// outcome: activated, skipped_already_active, error
	BulkRescueResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_rescue_results_total",
			Help: "Per-reference outcomes of bulk rescue runs",
		},
		[]string{"outcome"},
	)
)
