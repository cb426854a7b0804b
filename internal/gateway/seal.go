package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Signature errors. ErrInvalidSeal must fail closed: a payload that does
// not verify never reaches the order lifecycle.
var (
	ErrInvalidSeal       = errors.New("gateway seal verification failed")
	ErrUnknownKeyVersion = errors.New("unknown gateway key version")
)

// Secrets holds the shared secrets by key version. Versioning lets secrets
// rotate without breaking in-flight transactions signed under an older
// version.
type Secrets map[string]string

// secretFor resolves the secret for a key version.
func (s Secrets) secretFor(version string) (string, error) {
	secret, ok := s[version]
	if !ok {
		return "", errors.Wrapf(ErrUnknownKeyVersion, "version %q", version)
	}
	return secret, nil
}

// encodeData serializes gateway fields to the wire form "k=v|k=v|...".
// Keys are sorted so the same fields always produce the same string, which
// is what the seal is computed over.
func encodeData(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// decodeData parses the wire form back into a field map. Malformed pairs
// are rejected rather than skipped.
func decodeData(data string) (map[string]string, error) {
	fields := make(map[string]string)
	if data == "" {
		return fields, nil
	}
	for _, pair := range strings.Split(data, "|") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("malformed data pair %q", pair)
		}
		fields[k] = v
	}
	return fields, nil
}

// seal computes the HMAC-SHA256 seal of data under the given secret.
func seal(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySeal recomputes the seal over the exact received data using the
// secret for keyVersion and compares in constant time.
func verifySeal(data, receivedSeal, keyVersion string, secrets Secrets) error {
	secret, err := secrets.secretFor(keyVersion)
	if err != nil {
		return err
	}
	expected := seal(data, secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(receivedSeal))) != 1 {
		return ErrInvalidSeal
	}
	return nil
}
