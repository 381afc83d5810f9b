package replay

import "errors"

// ErrInvalidOrdering is returned when events are not in strictly increasing
// sequence order.
var ErrInvalidOrdering = errors.New("events are not in sequence order")

var errOrphan = errors.New("before POSITION_OPENED")
