package scheduler

import "strings"

// Resolution is what reconciliation does with one delivery report
type Resolution int

const (
	// ResolutionPending keeps the id awaiting confirmation
	ResolutionPending Resolution = iota
	// ResolutionDelivered deletes the record
	ResolutionDelivered
	// ResolutionRejected marks the record rejected
	ResolutionRejected
)

func (r Resolution) String() string {
	switch r {
	case ResolutionDelivered:
		return "delivered"
	case ResolutionRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Gateway status codes
const (
	gatewayStatusDelivered = "2"
	gatewayStatusFailed    = "3"
	gatewayStatusConfirmed = "4"
	gatewayStatusRefused   = "5"
)

// Non-retryable reasons reported with a failure code, lower-cased
var rejectionReasons = map[string]struct{}{
	"internal error: timeout":                {},
	"internal error: invalid message":        {},
	"internal error: unknown internal error": {},
	"internal error: rejected":               {},
	"external error: enroute expired":        {},
	"external error: expired":                {},
	"external error: deleted":                {},
	"external error: undeliverable":          {},
	"external error: rejected":               {},
	"external error: unknown external error": {},
}

// IsRejectionReason reports whether reason is one of the known non-retryable gateway errors
func IsRejectionReason(reason string) bool {
	_, ok := rejectionReasons[strings.ToLower(strings.TrimSpace(reason))]
	return ok
}

// Resolve maps a delivery report to its resolution. Failure codes with an unknown reason stay pending.
func Resolve(st DeliveryStatus) Resolution {
	switch strings.TrimSpace(st.Code) {
	case gatewayStatusDelivered, gatewayStatusConfirmed:
		return ResolutionDelivered
	case gatewayStatusFailed, gatewayStatusRefused:
		if IsRejectionReason(st.Reason) {
			return ResolutionRejected
		}
	}
	return ResolutionPending
}
