package contract

import "go.bryk.io/contractq/errors"

// ValidationKind classifies why a contract failed to assemble.
type ValidationKind string

// Recognized validation failure kinds, matching spec.md's §3 invariants.
const (
	KindMissingExchange      ValidationKind = "missing-exchange"
	KindMissingQueue         ValidationKind = "missing-queue"
	KindMissingRoutingKey    ValidationKind = "missing-routing-key"
	KindWildcardRoutingKey   ValidationKind = "wildcard-routing-key"
	KindUnexpectedRoutingKey ValidationKind = "unexpected-routing-key"
	KindMissingDeadLetter    ValidationKind = "missing-dead-letter"
	KindInvalidQueueType     ValidationKind = "invalid-queue-type"
	KindMissingDeliveryLimit ValidationKind = "missing-delivery-limit"
	KindInvalidMaxPriority   ValidationKind = "invalid-max-priority"
	KindDuplicateKey         ValidationKind = "duplicate-key"
	KindDuplicateBinding     ValidationKind = "duplicate-binding"
	KindIncompatibleBridge   ValidationKind = "incompatible-bridge"
)

// ValidationError is raised at contract assembly time when one of spec.md's
// §3 invariants is violated. Assembly never reaches the network.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

func newValidationError(kind ValidationKind, detail string) error {
	return errors.WithStack(&ValidationError{Kind: kind, Detail: detail})
}

// AsValidationError unwraps err looking for a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
