package reconcile

import (
	"time"

	"github.com/wolfman30/storefront-booking/internal/payapi"
)

// Options tunes the tiers. Zero fields take the defaults.
type Options struct {
	ConfirmAttempts  int
	ConfirmBaseDelay time.Duration
	PollAttempts     int
	PollInterval     time.Duration
	VerifyTimeout    time.Duration
	// Wait is the sleeper used between attempts; tests inject a recorder.
	Wait payapi.WaitFunc
}

const (
	defaultConfirmAttempts  = 3
	defaultConfirmBaseDelay = time.Second
	defaultPollAttempts     = 3
	defaultPollInterval     = time.Second
	defaultVerifyTimeout    = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ConfirmAttempts <= 0 {
		o.ConfirmAttempts = defaultConfirmAttempts
	}
	if o.ConfirmBaseDelay <= 0 {
		o.ConfirmBaseDelay = defaultConfirmBaseDelay
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = defaultPollAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = defaultVerifyTimeout
	}
	if o.Wait == nil {
		o.Wait = payapi.Sleep
	}
	return o
}
