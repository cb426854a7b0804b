package gateway

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
)

// ErrMalformedNotification indicates a payload whose shape is wrong before
// any signature check could run.
var ErrMalformedNotification = errors.New("malformed gateway notification")

// ParseNotification validates and decodes an inbound gateway payload, from
// either the synchronous return or the asynchronous webhook; both carry
// the same Data/Seal form fields. The seal is recomputed over the exact
// received Data using the key version the payload names; mismatches fail
// closed with ErrInvalidSeal and never reach the order lifecycle.
func (a *Adapter) ParseNotification(ctx context.Context, form url.Values) (*order.PaymentNotice, error) {
	data := form.Get("Data")
	receivedSeal := form.Get("Seal")
	if data == "" || receivedSeal == "" {
		return nil, errors.Wrap(ErrMalformedNotification, "missing Data or Seal")
	}

	fields, err := decodeData(data)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedNotification, err.Error())
	}

	keyVersion := fields["keyVersion"]
	if keyVersion == "" {
		// Key rotation depends on payloads naming their version. Verify
		// under the current one, but leave a trail for the rotation audit.
		zctx.From(ctx).Warn("Gateway notification without keyVersion, assuming current",
			zap.String("key_version", a.cfg.KeyVersion))
		keyVersion = a.cfg.KeyVersion
	}
	if err := verifySeal(data, receivedSeal, keyVersion, a.cfg.Secrets); err != nil {
		return nil, err
	}

	orderNumber := fields["orderId"]
	txnRef := fields["transactionReference"]
	if orderNumber == "" || txnRef == "" {
		return nil, errors.Wrap(ErrMalformedNotification, "missing orderId or transactionReference")
	}

	code := fields["responseCode"]
	notice := &order.PaymentNotice{
		OrderNumber:   orderNumber,
		TransactionID: txnRef,
		Succeeded:     code == "00",
		ThreeDS:       threeDSOutcome(fields["holderAuthentStatus"]),
	}
	if !notice.Succeeded {
		notice.FailureCode = code
		notice.FailureReason = reasonFor(code)
	}
	return notice, nil
}

// SignNotification is the inverse of ParseNotification, used by tests and
// the seed tooling to construct payloads the adapter accepts.
func (a *Adapter) SignNotification(fields map[string]string, keyVersion string) (url.Values, error) {
	secret, err := a.cfg.Secrets.secretFor(keyVersion)
	if err != nil {
		return nil, err
	}
	data := encodeData(fields)
	v := url.Values{}
	v.Set("Data", data)
	v.Set("Seal", seal(data, secret))
	v.Set("InterfaceVersion", interfaceVersion)
	return v, nil
}
