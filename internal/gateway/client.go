package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
)

// Compile-time check: the adapter is the engine's payment initiator.
var _ order.PaymentInitiator = (*Adapter)(nil)

// Adapter is the gateway client. Initiate is the engine's only
// network-bound call and always runs under the configured timeout.
type Adapter struct {
	cfg  Config
	http *http.Client
}

// NewAdapter creates an Adapter for the given merchant configuration.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Initiate builds the signed authorization request for the order and asks
// the gateway for a hosted-payment redirect. The transaction reference is
// merchant-generated here; every later notification is keyed by it.
func (a *Adapter) Initiate(ctx context.Context, o *order.Order) (*order.PaymentInit, error) {
	txnRef := newTransactionReference()

	fields := map[string]string{
		"amount":               strconv.FormatInt(o.Total.MinorUnits(), 10),
		"currencyCode":         o.Total.Currency().NumericCode(),
		"merchantId":           a.cfg.MerchantID,
		"orderId":              o.Number,
		"transactionReference": txnRef,
		"orderChannel":         "INTERNET",
		"captureMode":          a.cfg.CaptureMode,
		"keyVersion":           a.cfg.KeyVersion,
		"normalReturnUrl":      a.cfg.NormalReturnURL,
		"automaticResponseUrl": a.cfg.AutoResponseURL,
	}
	if a.cfg.CaptureMode == CaptureValidation {
		fields["captureDay"] = strconv.Itoa(a.cfg.CaptureDay)
	}
	if a.cfg.Enable3DS2 {
		fields["fraudData.challengeMode3DS"] = a.cfg.ChallengePreference
	}

	data := encodeData(fields)
	secret, err := a.cfg.Secrets.secretFor(a.cfg.KeyVersion)
	if err != nil {
		return nil, err
	}

	body := encodeInitRequest(data, seal(data, secret))

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/paymentInit", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, errors.Wrap(ErrTimeout, "payment init")
		}
		return nil, errors.Wrap(err, "payment init")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("payment init: gateway returned %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	redirect, statusCode, err := decodeInitResponse(respBody)
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if statusCode != "00" {
		return nil, errors.Errorf("payment init rejected: %s (%s)", statusCode, reasonFor(statusCode))
	}

	return &order.PaymentInit{RedirectURL: redirect, TransactionID: txnRef}, nil
}

// encodeInitRequest builds the JSON body {"Data": ..., "Seal": ...,
// "InterfaceVersion": ...}.
func encodeInitRequest(data, sealValue string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("Data", func(e *jx.Encoder) { e.Str(data) })
		e.Field("Seal", func(e *jx.Encoder) { e.Str(sealValue) })
		e.Field("InterfaceVersion", func(e *jx.Encoder) { e.Str(interfaceVersion) })
	})
	return e.Bytes()
}

// decodeInitResponse extracts the redirect URL and status code from the
// gateway's JSON answer.
func decodeInitResponse(body []byte) (redirect, statusCode string, err error) {
	d := jx.DecodeBytes(body)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "redirectionUrl":
			redirect, err = d.Str()
			return err
		case "redirectionStatusCode":
			statusCode, err = d.Str()
			return err
		default:
			return d.Skip()
		}
	})
	return redirect, statusCode, err
}

// newTransactionReference generates a merchant-unique alphanumeric
// reference for one payment attempt.
func newTransactionReference() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
