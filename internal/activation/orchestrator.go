// internal/activation/orchestrator.go
package activation

import (
	"context"
	"strings"
	"time"

	"entitlement-workers/internal/audit"
	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/metrics"
	"entitlement-workers/internal/common/observability"
	"entitlement-workers/internal/models"
	"entitlement-workers/internal/notify"
	"entitlement-workers/internal/payment"
	"entitlement-workers/internal/provisioning"
)

type PaymentVerifier interface {
	Verify(ctx context.Context, ref models.Reference, opts payment.VerifyOptions) (*models.VerifiedPayment, error)
}

type CredentialProvisioner interface {
	Provision(ctx context.Context, subjectID int64) models.Credential
	Config() provisioning.Config
}

type EntitlementStore interface {
	FindBySubjectAndItem(ctx context.Context, subjectID, itemID int64) (*models.Entitlement, bool, error)
	TryInsert(ctx context.Context, e models.Entitlement) (*models.Entitlement, bool, error)
}

type SubjectDirectory interface {
	FindByID(ctx context.Context, id int64) (*models.Subject, error)
	FindOrCreate(ctx context.Context, email string, profile models.Profile) (*models.Subject, bool, error)
}

type PendingLedger interface {
	FindByReference(ctx context.Context, reference string) (*models.PendingPayment, bool, error)
	MarkCompleted(ctx context.Context, id, subjectID int64, buyer models.BuyerDetails) (bool, error)
	ListUnresolved(ctx context.Context) ([]models.PendingPayment, error)
}

type Notifier interface {
	SendConfirmation(ctx context.Context, c notify.Confirmation) bool
}

// BuyerHint carries profile details the caller collected. They never
// override what the provider verified.
type BuyerHint struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Request struct {
	Reference     string
	SubjectID     int64
	Buyer         BuyerHint
	EmailOverride string
	ItemIDHint    int64
	// Source names the entry point for logs and the audit trail.
	Source string
}

type Result struct {
	Credential  models.Credential
	Entitlement *models.Entitlement
	Payment     *models.VerifiedPayment
	SubjectID   int64
	Created     bool
	Degraded    bool
}

type Dependencies struct {
	Verifier     PaymentVerifier
	Provisioner  CredentialProvisioner
	Entitlements EntitlementStore
	Subjects     SubjectDirectory
	Pending      PendingLedger
	Notifier     Notifier
	Audit        audit.Recorder
	Obs          *observability.Observability
}

// Orchestrator turns a verified payment into exactly one entitlement per
// (subject, item). It holds no per-request state and relies on the store's
// uniqueness constraint for concurrent callers.
type Orchestrator struct {
	deps   Dependencies
	logger logger.Logger
}

func NewOrchestrator(deps Dependencies, log logger.Logger) *Orchestrator {
	if deps.Audit == nil {
		deps.Audit = audit.NopRecorder{}
	}
	return &Orchestrator{
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "activation"}),
	}
}

type subjectResolver func(ctx context.Context, vp *models.VerifiedPayment) (*models.Subject, error)

// Activate grants the item paid for by reference to an existing subject. The
// subject's e-mail must match the buyer e-mail the provider reports.
func (o *Orchestrator) Activate(ctx context.Context, req Request) (*Result, error) {
	if req.SubjectID <= 0 {
		return nil, apperrors.NewValidationError("subjectId must be positive")
	}
	return o.activate(ctx, req, o.subjectByID(req.SubjectID))
}

func (o *Orchestrator) subjectByID(id int64) subjectResolver {
	return func(ctx context.Context, vp *models.VerifiedPayment) (*models.Subject, error) {
		subject, err := o.deps.Subjects.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(strings.TrimSpace(subject.Email), vp.BuyerEmail) {
			o.logger.Warn("subject email does not match verified buyer", map[string]interface{}{
				"subjectId": id,
				"reference": vp.Reference,
			})
			return nil, apperrors.NewSubjectEmailMismatchError(id)
		}
		return subject, nil
	}
}

func (o *Orchestrator) activate(ctx context.Context, req Request, resolve subjectResolver) (result *Result, err error) {
	start := time.Now()
	var (
		ref models.Reference
		vp  *models.VerifiedPayment
	)
	defer func() {
		o.finish(ctx, req, vp, result, err, time.Since(start))
	}()

	ref, err = payment.ParseReference(req.Reference)
	if err != nil {
		return nil, err
	}

	vp, err = o.deps.Verifier.Verify(ctx, ref, payment.VerifyOptions{
		EmailOverride: req.EmailOverride,
		ItemIDHint:    req.ItemIDHint,
	})
	if err != nil {
		return nil, err
	}

	subject, err := resolve(ctx, vp)
	if err != nil {
		return nil, err
	}

	existing, found, err := o.deps.Entitlements.FindBySubjectAndItem(ctx, subject.ID, vp.ItemID)
	if err != nil {
		return nil, err
	}
	if found {
		return o.resultFor(existing, vp, false), nil
	}

	cred := o.deps.Provisioner.Provision(ctx, subject.ID)

	stored, inserted, err := o.deps.Entitlements.TryInsert(ctx, models.Entitlement{
		SubjectID:             subject.ID,
		ItemID:                vp.ItemID,
		AmountPaid:            vp.AmountPaid(),
		Currency:              vp.CurrencyCode,
		Provider:              vp.Provider,
		ProviderTransactionID: vp.ProviderTransactionID,
		CredentialUsername:    cred.Username,
		CredentialSecret:      cred.Secret,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		o.logger.Info("concurrent activation won, discarding provisioned credential", map[string]interface{}{
			"subjectId":          subject.ID,
			"itemId":             vp.ItemID,
			"discardedUsername":  cred.Username,
			"entitlementId":      stored.ID,
			"retainedCredential": stored.CredentialUsername,
		})
	}

	o.completePending(ctx, ref, subject, vp, req.Buyer)

	result = o.resultFor(stored, vp, inserted)
	if inserted && o.deps.Notifier != nil {
		o.deps.Notifier.SendConfirmation(ctx, notify.Confirmation{
			Email:      vp.BuyerEmail,
			Phone:      firstNonEmpty(req.Buyer.Phone, vp.BuyerPhone, subject.Phone),
			Name:       firstNonEmpty(req.Buyer.Name, vp.BuyerName, subject.Name),
			ItemID:     vp.ItemID,
			AmountPaid: stored.AmountPaid,
			Currency:   stored.Currency,
			Username:   result.Credential.Username,
			Host:       result.Credential.Host,
			Tier:       result.Credential.Tier,
		})
	}
	return result, nil
}

// completePending marks the ledger row for ref completed if one exists.
// Failures are logged only.
func (o *Orchestrator) completePending(ctx context.Context, ref models.Reference, subject *models.Subject, vp *models.VerifiedPayment, hint BuyerHint) {
	if o.deps.Pending == nil {
		return
	}

	row, found, err := o.deps.Pending.FindByReference(ctx, ref.ID)
	if err != nil {
		o.logger.Warn("pending payment lookup failed", map[string]interface{}{"reference": ref.Raw, "error": err})
		return
	}
	if !found || row.Status == models.PendingCompleted {
		return
	}

	buyer := models.BuyerDetails{
		Email: vp.BuyerEmail,
		Name:  firstNonEmpty(hint.Name, vp.BuyerName),
		Phone: firstNonEmpty(hint.Phone, vp.BuyerPhone),
	}
	if _, err := o.deps.Pending.MarkCompleted(ctx, row.ID, subject.ID, buyer); err != nil {
		o.logger.Warn("failed to mark pending payment completed", map[string]interface{}{
			"reference": ref.Raw,
			"pendingId": row.ID,
			"error":     err,
		})
	}
}

func (o *Orchestrator) resultFor(e *models.Entitlement, vp *models.VerifiedPayment, created bool) *Result {
	cred := o.deps.Provisioner.Config().Credential(e.CredentialUsername, e.CredentialSecret)
	return &Result{
		Credential:  cred,
		Entitlement: e,
		Payment:     vp,
		SubjectID:   e.SubjectID,
		Created:     created,
		Degraded:    cred.Degraded(),
	}
}

func (o *Orchestrator) finish(ctx context.Context, req Request, vp *models.VerifiedPayment, result *Result, err error, elapsed time.Duration) {
	event := audit.Event{
		Source:     req.Source,
		Reference:  req.Reference,
		SubjectID:  req.SubjectID,
		DurationMs: elapsed.Milliseconds(),
	}
	if vp != nil {
		event.Provider = vp.Provider
		event.TransactionID = vp.ProviderTransactionID
		event.ItemID = vp.ItemID
		event.ItemDefaulted = vp.ItemDefaulted
		event.AmountPaid = vp.AmountPaid()
		event.Currency = vp.CurrencyCode
		event.CampaignTags = vp.CampaignTags
	}

	provider := ""
	if vp != nil {
		provider = string(vp.Provider)
	}

	switch {
	case err != nil:
		stdErr := apperrors.AsStandardError(err)
		event.Outcome = audit.OutcomeFailed
		event.ErrorCode = string(stdErr.Code)
		fields := map[string]interface{}{
			"reference": req.Reference,
			"subjectId": req.SubjectID,
			"source":    req.Source,
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		}
		if stdErr.Code == apperrors.ErrCodeDatabaseFailed || stdErr.Code == apperrors.ErrCodeInternal {
			o.logger.Error("activation failed", fields)
		} else {
			o.logger.Warn("activation rejected", fields)
		}
	default:
		event.SubjectID = result.SubjectID
		event.CredentialTier = result.Credential.Tier
		event.Degraded = result.Degraded
		event.Outcome = audit.OutcomeExisting
		if result.Created {
			event.Outcome = audit.OutcomeCreated
		}
		o.logger.Info("activation succeeded", map[string]interface{}{
			"reference":     req.Reference,
			"subjectId":     result.SubjectID,
			"itemId":        result.Entitlement.ItemID,
			"entitlementId": result.Entitlement.ID,
			"created":       result.Created,
			"tier":          string(result.Credential.Tier),
			"source":        req.Source,
		})
	}

	metrics.EntitlementActivations.WithLabelValues(string(event.Outcome)).Inc()
	o.deps.Obs.RecordActivation(ctx, provider, string(event.Outcome), elapsed)
	o.deps.Audit.Record(ctx, event)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
