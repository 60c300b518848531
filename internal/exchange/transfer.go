package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transfer executes one wallet-to-wallet move and returns the venue's
// transaction ID. transferType uses the venue's MAIN_MARGIN style names.
func (h *Handle) Transfer(ctx context.Context, transferType, asset string, amount decimal.Decimal) (int64, error) {
	id, err := h.pm.UniversalTransfer(ctx, transferType, asset, amount.String())
	if err != nil {
		return 0, h.venueError(err, "transfer "+transferType)
	}
	h.log.WithField("tranId", id).Infof("transferred %s %s via %s", amount, asset, transferType)
	return id, nil
}
