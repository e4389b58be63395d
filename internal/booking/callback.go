package booking

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/storefront-booking/internal/dispatch"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/internal/progress"
	"github.com/wolfman30/storefront-booking/internal/reconcile"
	"github.com/wolfman30/storefront-booking/internal/sessions"
	"github.com/wolfman30/storefront-booking/internal/wizard"
)

// DeliverGatewayResult routes the gateway's answer for ref to its session.
// Success is reconciled with the backend before dispatch; error and close are
// dispatched directly. Only the first result per checkout is acted on, and a
// session that already reached success returns its stored navigation. A
// success re-delivered while the payment awaits verification is reconciled
// again.
func (f *Flow) DeliverGatewayResult(ctx context.Context, ref string, result payments.GatewayResult) (dispatch.Navigation, error) {
	ctx, span := tracer.Start(ctx, "booking.gateway_result")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_ref", ref), attribute.String("result", string(result.Kind)))

	owner, err := f.sessions.LookupReference(ctx, ref)
	if errors.Is(err, sessions.ErrNotFound) {
		return dispatch.Navigation{}, ErrUnknownReference
	}
	if err != nil {
		return dispatch.Navigation{}, err
	}
	log := f.logger.With("store_id", owner.StoreID, "session_id", owner.SessionID, "transaction_ref", ref)

	inv, won := f.registry.Resolve(ref, result)
	f.metrics.ObserveGatewayResult(string(result.Kind))

	s, err := f.sessions.Get(ctx, owner.StoreID, owner.SessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		// Abandoned or expired; the webhook still completes the order.
		return dispatch.Navigation{}, ErrUnknownReference
	}
	if err != nil {
		return dispatch.Navigation{}, err
	}
	if s.Step == wizard.StepSuccess {
		log.Info("gateway result for completed booking, returning stored navigation", "result", result.Kind)
		return dispatch.Stored(s), nil
	}
	resolved, _ := inv.Result()
	if !won {
		if result.Kind != payments.ResultSuccess || !awaitingVerification(s) {
			log.Info("duplicate gateway result ignored", "result", result.Kind, "winner", resolved.Kind)
			if s.Result != nil {
				return dispatch.Stored(s), nil
			}
			return dispatch.Navigation{Outcome: OutcomeProcessing, Message: s.Message, Repeated: true}, nil
		}
		// The backend may have completed the order since the last check.
		log.Info("success re-delivered while payment awaits verification, reconciling again")
		resolved = result
		if resolved.TransactionRef == "" {
			resolved.TransactionRef = ref
		}
	}

	var nav dispatch.Navigation
	switch resolved.Kind {
	case payments.ResultSuccess:
		out := f.reconcileSuccess(ctx, s, resolved)
		// The customer may have navigated away; the outcome is still recorded.
		nav, err = f.apply(context.WithoutCancel(ctx), owner, func(s *wizard.Session) dispatch.Navigation {
			return f.dispatcher.Apply(s, out)
		})
	case payments.ResultError:
		nav, err = f.apply(ctx, owner, func(s *wizard.Session) dispatch.Navigation {
			return f.dispatcher.GatewayError(s, resolved.Message)
		})
	default:
		nav, err = f.apply(ctx, owner, f.dispatcher.GatewayClosed)
	}
	if err != nil {
		return dispatch.Navigation{}, err
	}
	if completed(nav) {
		f.release(ctx, owner, ref)
	}

	f.hub.Publish(progress.Key(owner.StoreID, owner.SessionID), progress.Event{
		Type:        progress.TypeOutcome,
		SessionID:   owner.SessionID,
		Outcome:     nav.Outcome,
		RedirectURL: nav.URL,
		Message:     messageText(nav.Message),
	})
	span.SetAttributes(attribute.String("outcome", nav.Outcome))
	return nav, nil
}

func (f *Flow) reconcileSuccess(ctx context.Context, s *wizard.Session, res payments.GatewayResult) reconcile.Outcome {
	fallback := res.TransactionRef
	if s.Order != nil && s.Order.TransactionRef != "" {
		fallback = s.Order.TransactionRef
	}
	key := progress.Key(s.StoreID, s.ID)
	return f.reconciler.Reconcile(ctx, reconcile.Request{
		StoreID: s.StoreID,
		Result: reconcile.CallbackResult{
			TransactionRef: res.TransactionRef,
			CallbackData:   res.CallbackData,
		},
		FallbackRef: fallback,
		OnProgress: func(p reconcile.Progress) {
			f.hub.Publish(key, progress.Event{
				Type:        progress.TypeProgress,
				SessionID:   s.ID,
				Tier:        p.Tier,
				Attempt:     p.Attempt,
				MaxAttempts: p.MaxAttempts,
			})
		},
	})
}

// apply re-reads the session under its lock, so a result that raced with
// another instance's dispatch sees the latest step.
func (f *Flow) apply(ctx context.Context, owner sessions.SessionRef, fn func(*wizard.Session) dispatch.Navigation) (dispatch.Navigation, error) {
	unlock, err := f.sessions.Lock(ctx, owner.SessionID, f.lockWait)
	if err != nil {
		return dispatch.Navigation{}, err
	}
	defer unlock()

	s, err := f.sessions.Get(ctx, owner.StoreID, owner.SessionID)
	if err != nil {
		return dispatch.Navigation{}, err
	}
	nav := fn(s)
	if err := f.sessions.Save(ctx, s); err != nil {
		return dispatch.Navigation{}, err
	}
	return nav, nil
}

func awaitingVerification(s *wizard.Session) bool {
	return s.Result != nil && s.Result.Outcome == string(reconcile.KindPendingVerification)
}

func completed(nav dispatch.Navigation) bool {
	if nav.Repeated {
		return false
	}
	return nav.Outcome == string(reconcile.KindConfirmed) || nav.Outcome == string(reconcile.KindAlreadyCompleted)
}

// release drops the checkout's invocation and the session's attempt count.
// A completed session is kept on a short TTL so re-delivered callbacks still
// find their stored navigation.
func (f *Flow) release(ctx context.Context, owner sessions.SessionRef, ref string) {
	f.registry.Forget(ref)
	if err := f.limiter.Reset(context.WithoutCancel(ctx), owner.StoreID, owner.SessionID); err != nil {
		f.logger.Warn("failed to reset payment attempts", "error", err, "store_id", owner.StoreID, "session_id", owner.SessionID)
	}
}

func messageText(m *wizard.Message) string {
	if m == nil {
		return ""
	}
	return m.Text
}
