package router

import (
	"fmt"
	"strings"

	"github.com/betbot/binance-vault/internal/domain"
)

// UnsupportedTransferError names a segment pair with no transfer route.
type UnsupportedTransferError struct {
	From domain.Segment
	To   domain.Segment
}

func (e *UnsupportedTransferError) Error() string {
	return fmt.Sprintf("no transfer route from %s to %s", e.From, e.To)
}

// PartialTransferError reports a multi-step transfer that failed after at
// least one step already moved funds. Completed names where the money sits
// now so the operator can finish or revert the move by hand.
type PartialTransferError struct {
	Completed []ExecutedStep
	Failed    TransferStep
	Cause     error
}

func (e *PartialTransferError) Error() string {
	done := make([]string, 0, len(e.Completed))
	for _, s := range e.Completed {
		done = append(done, s.Step.Type)
	}
	return fmt.Sprintf("transfer step %s failed after completing [%s], funds are parked in the %s wallet: %v",
		e.Failed.Type, strings.Join(done, ", "), e.Failed.From, e.Cause)
}

func (e *PartialTransferError) Unwrap() error { return e.Cause }
