// Package gateway adapts the card-payment gateway: it builds signed
// outbound authorization requests and validates inbound return and
// webhook payloads. All payloads are sealed with HMAC-SHA256 under a
// versioned shared secret.
package gateway

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
)

// Capture modes.
const (
	// CaptureImmediate captures funds at authorization time.
	CaptureImmediate = "AUTHOR_CAPTURE"
	// CaptureValidation delays capture by CaptureDay days.
	CaptureValidation = "VALIDATION"
)

// interfaceVersion is the gateway protocol revision sent on every request.
const interfaceVersion = "IR_WS_2.35"

// ErrTimeout indicates the gateway did not answer within the bounded
// window. The attempt is treated as failed and the order stays retryable.
var ErrTimeout = errors.New("gateway timeout")

// Config holds merchant credentials and gateway behavior.
type Config struct {
	Endpoint   string
	MerchantID string
	// Secrets maps key version -> shared secret; KeyVersion selects the
	// version used for outbound seals.
	Secrets    Secrets
	KeyVersion string

	CaptureMode string // CaptureImmediate or CaptureValidation
	CaptureDay  int    // days before capture when CaptureMode is VALIDATION

	Enable3DS2          bool
	ChallengePreference string // e.g. "CHALLENGE_MANDATED", "NO_PREFERENCE"

	// NormalReturnURL receives the customer's browser after the challenge;
	// AutoResponseURL receives the authoritative asynchronous webhook.
	NormalReturnURL string
	AutoResponseURL string

	// Timeout bounds the outbound authorization call.
	Timeout time.Duration
}

// responseCodes maps the gateway's numeric result codes. "00" is the only
// acceptance; everything else is a refusal with a human-readable reason.
var responseCodes = map[string]string{
	"00": "accepted",
	"05": "refused by issuer",
	"14": "invalid card number",
	"17": "cancelled by customer",
	"34": "suspected fraud",
	"54": "card expired",
	"75": "card number attempts exceeded",
	"97": "session expired",
	"99": "temporary gateway fault",
}

// reasonFor returns a stable human-readable reason for a refusal code.
func reasonFor(code string) string {
	if r, ok := responseCodes[code]; ok {
		return r
	}
	return "refused"
}

// threeDSOutcome maps the gateway's holder authentication status to the
// engine's 3-D Secure outcome.
func threeDSOutcome(status string) order.ThreeDSOutcome {
	switch status {
	case "SUCCESS", "ATTEMPT", "AUTHENTICATION_REQUESTED":
		return order.ThreeDSFulfilled
	case "CANCEL", "FAILURE", "ERROR":
		return order.ThreeDSAbandoned
	default:
		// NOT_ENROLLED, NOT_PARTICIPATING, or absent.
		return order.ThreeDSNotRequired
	}
}
