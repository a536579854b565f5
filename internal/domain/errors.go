package domain

import (
	"errors"
	"fmt"
)

// Rejection marks deterministic bid failures: retrying cannot change the
// outcome, so the delivery pipeline must not spend retry budget on them.
type Rejection interface {
	error
	rejection()
}

var (
	ErrNotFound     = rejectionError{"auction not found"}
	ErrNotActive    = rejectionError{"auction not active"}
	ErrAuctionEnded = rejectionError{"auction already ended"}
)

type rejectionError struct{ msg string }

func (e rejectionError) Error() string { return e.msg }
func (e rejectionError) rejection()    {}

// BidTooLowError carries the minimum amount the auction would accept.
type BidTooLowError struct {
	Min int64
}

func (e *BidTooLowError) Error() string { return fmt.Sprintf("bid must be >= %d", e.Min) }
func (e *BidTooLowError) rejection()    {}

// IsRejection reports whether err is a deterministic rejection rather
// than a transient infrastructure failure.
func IsRejection(err error) bool {
	var r Rejection
	return errors.As(err, &r)
}
