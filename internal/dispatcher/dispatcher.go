package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrClosed    = errors.New("dispatcher closed")
	// ErrDeliveryUnknown means the command may have reached the telephony layer
	// even though no confirmation came back
	ErrDeliveryUnknown = errors.New("origination not confirmed")
)

// unconfirmed wraps transport errors after which the command may still have been delivered
func unconfirmed(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrDeliveryUnknown, err)
	}
	return err
}

// Dispatcher hands one origination to the SIP/media layer. The attempt ID is already
// assigned, so a lost response never loses the outcome correlation.
type Dispatcher interface {
	Originate(ctx context.Context, cmd types.DialCommand) error
}

// NopDispatcher accepts every command and only logs it
type NopDispatcher struct {
	logger zerolog.Logger
}

// NewNopDispatcher creates a dispatcher for runs without a telephony layer
func NewNopDispatcher(logger zerolog.Logger) *NopDispatcher {
	return &NopDispatcher{logger: logger.With().Str("component", "nop_dispatcher").Logger()}
}

// Originate implements Dispatcher
func (d *NopDispatcher) Originate(_ context.Context, cmd types.DialCommand) error {
	d.logger.Debug().
		Str("attempt_id", cmd.AttemptID).
		Str("campaign_id", cmd.CampaignID).
		Str("lead_id", cmd.LeadID).
		Msg("originate (no-op)")
	return nil
}
