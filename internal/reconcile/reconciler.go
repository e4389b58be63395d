package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/storefront-booking/internal/observability/metrics"
	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

var tracer = otel.Tracer("storefront.internal.reconcile")

// ErrAttemptPanicked wraps a panic recovered from a backend call.
var ErrAttemptPanicked = errors.New("reconcile: backend call panicked")

// verdict is what a single attempt tells the pipeline to do next.
type verdict int

const (
	verdictResolve verdict = iota
	verdictRetry
	verdictNextTier
)

// confirmVerdict classifies one ConfirmPaymentFromCallback attempt.
func confirmVerdict(conf *payapi.Confirmation, err error, attempt, maxAttempts int) verdict {
	if err == nil && conf != nil {
		return verdictResolve
	}
	if attempt < maxAttempts {
		return verdictRetry
	}
	return verdictNextTier
}

// confirmDelay is the wait after the given failed attempt.
func confirmDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

type tier struct {
	name string
	run  func(ctx context.Context, job *job) (Outcome, bool)
}

type job struct {
	req Request
	ref string
	// confirmExhausted is set when every confirm attempt failed.
	confirmExhausted bool
}

// Reconciler runs the verify → confirm → poll pipeline.
type Reconciler struct {
	api     payapi.API
	opts    Options
	logger  *logging.Logger
	metrics *metrics.ReconcileMetrics
	tiers   []tier
	now     func() time.Time
}

func New(api payapi.API, opts Options, logger *logging.Logger, m *metrics.ReconcileMetrics) *Reconciler {
	if api == nil {
		panic("reconcile: payment api required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reconciler{
		api:     api,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	r.tiers = []tier{
		{name: TierVerify, run: r.verifyTier},
		{name: TierConfirm, run: r.confirmTier},
		{name: TierPoll, run: r.pollTier},
	}
	return r
}

// Reconcile never returns an error: every path ends in an Outcome.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) Outcome {
	started := r.now()
	j := &job{req: req, ref: req.reference()}

	ctx, span := tracer.Start(ctx, "reconcile.payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("store_id", req.StoreID),
		attribute.String("transaction_ref", j.ref),
		attribute.Bool("has_callback_data", req.Result.CallbackData != nil),
	)

	log := r.logger.With("store_id", req.StoreID, "transaction_ref", j.ref)
	if j.ref == "" && req.Result.CallbackData == nil {
		out := Outcome{Kind: KindFailed, StoreID: req.StoreID, Reason: ReasonNoReference, Tier: TierManual}
		log.Error("payment callback carried no reference")
		return r.finish(span, started, out)
	}

	for _, t := range r.tiers {
		if ctx.Err() != nil {
			log.Warn("reconciliation interrupted", "tier", t.name, "error", ctx.Err())
			break
		}
		if out, ok := t.run(ctx, j); ok {
			out.Tier = t.name
			if out.TransactionRef == "" {
				out.TransactionRef = j.ref
			}
			out.StoreID = req.StoreID
			log.Info("payment reconciled", "outcome", out.Kind, "tier", t.name, "order_id", out.OrderID)
			return r.finish(span, started, out)
		}
	}

	if j.ref == "" {
		log.Error("payment could not be confirmed and no reference is available")
		return r.finish(span, started, Outcome{
			Kind: KindFailed, StoreID: req.StoreID, Reason: ReasonNoReference, Tier: TierManual,
		})
	}
	log.Warn("payment left for manual verification")
	return r.finish(span, started, Outcome{
		Kind:           KindPendingVerification,
		TransactionRef: j.ref,
		StoreID:        req.StoreID,
		Tier:           TierManual,
	})
}

func (r *Reconciler) finish(span trace.Span, started time.Time, out Outcome) Outcome {
	out.Elapsed = r.now().Sub(started)
	span.SetAttributes(attribute.String("outcome", string(out.Kind)), attribute.String("tier", out.Tier))
	r.metrics.ObserveOutcome(string(out.Kind), out.Tier, out.Elapsed.Seconds())
	return out
}

// verifyTier asks once whether the order is already paid, e.g. because the
// webhook beat the browser back.
func (r *Reconciler) verifyTier(ctx context.Context, j *job) (Outcome, bool) {
	if j.ref == "" {
		return Outcome{}, false
	}
	j.req.progress(Progress{Tier: TierVerify, Attempt: 1, MaxAttempts: 1})

	vctx, cancel := context.WithTimeout(ctx, r.opts.VerifyTimeout)
	defer cancel()
	status, err := guard(func() (*payapi.PaymentStatus, error) {
		return r.api.VerifyPayment(vctx, j.ref, j.req.StoreID)
	})
	r.metrics.ObserveAttempt(TierVerify, err == nil)
	if err != nil {
		r.logger.Warn("payment verification failed", "transaction_ref", j.ref, "error", err)
		return Outcome{}, false
	}
	if !status.Completed() {
		return Outcome{}, false
	}
	return Outcome{
		Kind:        KindAlreadyCompleted,
		OrderID:     firstNonEmpty(status.OrderID, j.ref),
		OrderNumber: status.OrderNumber,
	}, true
}

func (r *Reconciler) confirmTier(ctx context.Context, j *job) (Outcome, bool) {
	data := j.req.Result.CallbackData
	if data == nil {
		return Outcome{}, false
	}
	payload := *data
	if payload.TransactionRef == "" {
		payload.TransactionRef = j.ref
	}

	maxAttempts := r.opts.ConfirmAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		j.req.progress(Progress{Tier: TierConfirm, Attempt: attempt, MaxAttempts: maxAttempts})
		conf, err := guard(func() (*payapi.Confirmation, error) {
			return r.api.ConfirmPaymentFromCallback(ctx, payload)
		})
		r.metrics.ObserveAttempt(TierConfirm, err == nil && conf != nil)

		switch confirmVerdict(conf, err, attempt, maxAttempts) {
		case verdictResolve:
			kind := KindConfirmed
			if conf.AlreadyProcessed {
				kind = KindAlreadyCompleted
			}
			return Outcome{
				Kind:        kind,
				OrderID:     firstNonEmpty(conf.OrderID, j.ref),
				OrderNumber: conf.OrderNumber,
			}, true
		case verdictRetry:
			delay := confirmDelay(r.opts.ConfirmBaseDelay, attempt)
			r.logger.Warn("payment confirmation failed, retrying",
				"transaction_ref", j.ref, "attempt", attempt, "max_attempts", maxAttempts,
				"delay", delay.String(), "error", err)
			if werr := r.opts.Wait(ctx, delay); werr != nil {
				return Outcome{}, false
			}
		case verdictNextTier:
			r.logger.Warn("payment confirmation attempts exhausted",
				"transaction_ref", j.ref, "attempts", maxAttempts, "error", err)
			j.confirmExhausted = true
		}
	}
	return Outcome{}, false
}

func (r *Reconciler) pollTier(ctx context.Context, j *job) (Outcome, bool) {
	if !j.confirmExhausted || j.ref == "" {
		return Outcome{}, false
	}
	opts := payapi.PollOptions{
		MaxAttempts: r.opts.PollAttempts,
		Interval:    r.opts.PollInterval,
		Wait:        r.opts.Wait,
		OnProgress: func(attempt, maxAttempts int) {
			j.req.progress(Progress{Tier: TierPoll, Attempt: attempt, MaxAttempts: maxAttempts})
		},
	}
	status, err := guard(func() (*payapi.PaymentStatus, error) {
		return r.api.PollPaymentStatus(ctx, j.ref, j.req.StoreID, opts)
	})
	r.metrics.ObserveAttempt(TierPoll, err == nil)
	if err != nil {
		r.logger.Warn("payment status polling failed", "transaction_ref", j.ref, "error", err)
		return Outcome{}, false
	}
	if !status.Completed() {
		return Outcome{}, false
	}
	return Outcome{
		Kind:        KindConfirmed,
		OrderID:     firstNonEmpty(status.OrderID, j.ref),
		OrderNumber: status.OrderNumber,
	}, true
}

// guard converts a panic in fn into an error.
func guard[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			result = zero
			err = fmt.Errorf("%w: %v", ErrAttemptPanicked, rec)
		}
	}()
	return fn()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
