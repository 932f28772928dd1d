package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Authentication headers carried on every signed request.
const (
	headerAccessToken = "x-phemex-access-token"
	headerExpiry      = "x-phemex-request-expiry"
	headerSignature   = "x-phemex-request-signature"
)

// signatureWindow is how far in the future the request expiry is stamped.
// The exchange rejects requests whose expiry has passed.
const signatureWindow = 60 * time.Second

// signer produces the per-request HMAC. It holds no mutable state and is
// safe for concurrent use.
type signer struct {
	apiKey    string
	apiSecret []byte
}

func newSigner(apiKey, apiSecret string) signer {
	return signer{apiKey: apiKey, apiSecret: []byte(apiSecret)}
}

// sign computes the hex HMAC-SHA256 over apiKey + expiry + sorted query
// string + body. The query string must be the exact string sent on the
// wire; canonicalQuery produces both.
func (s signer) sign(expiry int64, query, body string) string {
	mac := hmac.New(sha256.New, s.apiSecret)
	mac.Write([]byte(s.apiKey))
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	mac.Write([]byte(query))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// expiry returns the unix-seconds deadline stamped on a request signed now.
func (s signer) expiry(now time.Time) int64 {
	return now.Add(signatureWindow).Unix()
}

// canonicalQuery encodes values with keys in lexicographic order. The
// same string is used for the signature and the request URL, so the two
// can never disagree.
func canonicalQuery(values url.Values) string {
	return values.Encode()
}
