package staging

import (
	"errors"
	"fmt"
)

// ErrUnrecognizedSource is returned by the registry when no data-source
// profile matches an incoming object path, or when several match equally
// well. The orchestrator routes such objects to the failed area.
var ErrUnrecognizedSource = errors.New("unrecognized data source")

// ValidationError reports a schema or naming-convention violation. These are
// expected failures: the object is routed to the failed area and the catalog
// record carries Reason verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ConflictError reports an attempt to complete a catalog record that is
// already terminal with a different outcome. It indicates duplicate or
// out-of-order processing that idempotency should have prevented, so it is
// surfaced rather than retried.
type ConflictError struct {
	RecordID  string
	Existing  Outcome
	Requested Outcome
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("catalog record %s already terminal with outcome %s, refusing %s",
		e.RecordID, e.Existing, e.Requested)
}

// IsValidation reports whether err is a validation-class failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
