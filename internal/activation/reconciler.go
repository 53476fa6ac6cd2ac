// internal/activation/reconciler.go
package activation

import (
	"context"
	"strings"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/metrics"
	"entitlement-workers/internal/models"
	"entitlement-workers/internal/payment"

	"golang.org/x/sync/errgroup"
)

type RescueOutcome string

const (
	OutcomeActivated     RescueOutcome = "activated"
	OutcomeAlreadyActive RescueOutcome = "skipped_already_active"
	OutcomeError         RescueOutcome = "error"
)

const defaultBulkConcurrency = 4

type RescueOptions struct {
	EmailOverride string
	ItemIDHint    int64
	Source        string
}

// RescueResult reports one reference of a bulk rescue. Reason is a short
// caller-safe message and is set only for errors.
type RescueResult struct {
	Reference string        `json:"reference"`
	Outcome   RescueOutcome `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	SubjectID int64         `json:"subjectId,omitempty"`
	ItemID    int64         `json:"itemId,omitempty"`
	Username  string        `json:"username,omitempty"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Reconciler drives activations for payments whose normal completion path
// never ran. The subject is resolved, or created, from the verified buyer e-mail.
type Reconciler struct {
	orchestrator *Orchestrator
	concurrency  int
	logger       logger.Logger
}

func NewReconciler(orchestrator *Orchestrator, concurrency int, log logger.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = defaultBulkConcurrency
	}
	return &Reconciler{
		orchestrator: orchestrator,
		concurrency:  concurrency,
		logger:       log.WithFields(map[string]interface{}{"component": "reconciliation"}),
	}
}

// ActivateByReference activates a payment known only by its provider reference.
// A ledger row that exists but is not yet provider-confirmed blocks the call;
// a missing row does not, since the provider is the source of truth.
func (r *Reconciler) ActivateByReference(ctx context.Context, reference string, opts RescueOptions) (*Result, error) {
	ref, err := payment.ParseReference(reference)
	if err != nil {
		return nil, err
	}

	var row *models.PendingPayment
	if ledger := r.orchestrator.deps.Pending; ledger != nil {
		p, found, err := ledger.FindByReference(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if found {
			row = p
		}
	}
	if row != nil && !row.ProviderConfirmed() {
		r.logger.Warn("pending payment not confirmed by provider", map[string]interface{}{
			"reference": reference,
			"pendingId": row.ID,
			"status":    string(row.Status),
		})
		return nil, apperrors.NewPendingNotConfirmedError(reference)
	}

	req := Request{
		Reference:     reference,
		EmailOverride: opts.EmailOverride,
		ItemIDHint:    opts.ItemIDHint,
		Source:        opts.Source,
	}
	if row != nil {
		req.EmailOverride = firstNonEmpty(opts.EmailOverride, row.BuyerEmail)
		req.Buyer = BuyerHint{Name: row.BuyerName, Phone: row.BuyerPhone}
		if req.ItemIDHint == 0 {
			req.ItemIDHint = row.ItemID
		}
	}

	result, err := r.orchestrator.activate(ctx, req, r.subjectByEmail(req.Buyer))
	if err != nil {
		return nil, err
	}

	// An existing entitlement short-circuits the orchestrator before it
	// touches the ledger, so close out a row left behind by an earlier run.
	if row != nil && !result.Created && row.Status != models.PendingCompleted {
		subject := &models.Subject{ID: result.SubjectID}
		r.orchestrator.completePending(ctx, ref, subject, result.Payment, req.Buyer)
	}
	return result, nil
}

func (r *Reconciler) subjectByEmail(hint BuyerHint) subjectResolver {
	return func(ctx context.Context, vp *models.VerifiedPayment) (*models.Subject, error) {
		subject, created, err := r.orchestrator.deps.Subjects.FindOrCreate(ctx, vp.BuyerEmail, models.Profile{
			Name:  firstNonEmpty(hint.Name, vp.BuyerName),
			Phone: firstNonEmpty(hint.Phone, vp.BuyerPhone),
		})
		if err != nil {
			return nil, err
		}
		if created {
			r.logger.Info("created subject for reconciled payment", map[string]interface{}{
				"subjectId": subject.ID,
				"reference": vp.Reference,
			})
		}
		return subject, nil
	}
}

// BulkRescue activates each reference independently. One failure never stops
// the batch. Blank and repeated references are dropped; results keep the
// order of first appearance.
func (r *Reconciler) BulkRescue(ctx context.Context, references []string, emailOverrides map[string]string) []RescueResult {
	refs := dedupe(references)
	results := make([]RescueResult, len(refs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			results[i] = r.rescueOne(ctx, ref, lookupOverride(emailOverrides, ref))
			return nil
		})
	}
	_ = g.Wait()

	activated, skipped, failed := Tally(results)
	r.logger.Info("bulk rescue finished", map[string]interface{}{
		"references": len(refs),
		"activated":  activated,
		"skipped":    skipped,
		"failed":     failed,
	})
	return results
}

func (r *Reconciler) rescueOne(ctx context.Context, reference, emailOverride string) RescueResult {
	out := RescueResult{Reference: reference}
	if err := ctx.Err(); err != nil {
		out.Outcome = OutcomeError
		out.Reason = "cancelled"
		out.ErrorCode = string(apperrors.ErrCodeInternal)
		metrics.BulkRescueResults.WithLabelValues(string(out.Outcome)).Inc()
		return out
	}

	result, err := r.ActivateByReference(ctx, reference, RescueOptions{
		EmailOverride: emailOverride,
		Source:        "bulk-rescue",
	})
	switch {
	case err != nil:
		stdErr := apperrors.AsStandardError(err)
		out.Outcome = OutcomeError
		out.Reason = apperrors.UserMessage(err)
		out.ErrorCode = string(stdErr.Code)
	case result.Created:
		out.Outcome = OutcomeActivated
	default:
		out.Outcome = OutcomeAlreadyActive
	}

	if result != nil {
		out.SubjectID = result.SubjectID
		out.ItemID = result.Entitlement.ItemID
		out.Username = result.Credential.Username
		out.Degraded = result.Degraded
	}

	metrics.BulkRescueResults.WithLabelValues(string(out.Outcome)).Inc()
	return out
}

// ListUnresolvedPending returns provider-confirmed payments nobody completed.
func (r *Reconciler) ListUnresolvedPending(ctx context.Context) ([]models.PendingPayment, error) {
	if r.orchestrator.deps.Pending == nil {
		return []models.PendingPayment{}, nil
	}
	return r.orchestrator.deps.Pending.ListUnresolved(ctx)
}

// Tally counts bulk rescue outcomes.
func Tally(results []RescueResult) (activated, skipped, failed int) {
	for _, res := range results {
		switch res.Outcome {
		case OutcomeActivated:
			activated++
		case OutcomeAlreadyActive:
			skipped++
		default:
			failed++
		}
	}
	return activated, skipped, failed
}

func dedupe(references []string) []string {
	seen := make(map[string]struct{}, len(references))
	out := make([]string, 0, len(references))
	for _, ref := range references {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func lookupOverride(overrides map[string]string, reference string) string {
	if email, ok := overrides[reference]; ok {
		return strings.TrimSpace(email)
	}
	for k, v := range overrides {
		if strings.TrimSpace(k) == reference {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
