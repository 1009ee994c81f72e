package connectors

import "fmt"

// rejection classes for venue business codes. Transient codes are safe to
// retry with a fresh idempotency key; the rest mean the order itself was
// unacceptable.
type rejectionClass struct {
	message   string
	transient bool
}

var venueErrorCodes = map[int]rejectionClass{
	10002: {"UNKNOWN_ERROR", true},
	10005: {"MAINTENANCE_MODE", true},
	10100: {"TOO_MANY_ORDERS", true},
	10429: {"RATE_LIMITED", true},

	10003: {"INVALID_ARGUMENT", false},
	10015: {"PRICE_TOO_SMALL", false},
	10016: {"PRICE_TOO_LARGE", false},
	10017: {"QTY_TOO_SMALL", false},
	10018: {"QTY_TOO_LARGE", false},
	10050: {"RISK_LIMIT_EXCEEDED", false},
	10051: {"INSUFFICIENT_BALANCE", false},
	10070: {"MARKET_CLOSED", false},
	10081: {"CLIENT_ID_EXIST", false},
	10120: {"CONTRACT_NOT_FOUND", false},
}

// classifyCode maps a venue business code to a message and retryability.
// Unknown codes are treated as permanent so a rejected order is never
// blindly resubmitted.
func classifyCode(code int) rejectionClass {
	if class, ok := venueErrorCodes[code]; ok {
		return class
	}
	return rejectionClass{message: fmt.Sprintf("UNKNOWN_VENUE_ERROR_%d", code), transient: false}
}
