package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies adapter failures. The workflow switches on the kind
// to decide between retrying, alerting, and quietly logging.
type ErrorKind string

const (
	// KindAuth means the exchange rejected our credentials. Terminal for
	// the instrument; the next tick presents them again.
	KindAuth ErrorKind = "auth"

	// KindTransient covers network faults, 5xx responses, and 429
	// throttling. The adapter retries these internally.
	KindTransient ErrorKind = "transient"

	// Validation kinds. Never retried: the same request would fail again.
	KindInvalidSymbol   ErrorKind = "invalid_symbol"
	KindInvalidQty      ErrorKind = "invalid_qty"
	KindInvalidPrice    ErrorKind = "invalid_price"
	KindInvalidLeverage ErrorKind = "invalid_leverage"
	KindPriceOutOfBand  ErrorKind = "price_out_of_band"
	KindValidation      ErrorKind = "validation"

	// KindCancelled means an outer deadline elapsed mid-request. Logged
	// but not alerted.
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether another attempt at the same request could
// plausibly succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// IsValidation reports whether the kind is a request-shape rejection.
func (k ErrorKind) IsValidation() bool {
	switch k {
	case KindInvalidSymbol, KindInvalidQty, KindInvalidPrice,
		KindInvalidLeverage, KindPriceOutOfBand, KindValidation:
		return true
	}
	return false
}

// Error is the adapter's failure type. Op names the semantic operation
// ("getTicker", "placeLimit"), not the HTTP route; Symbol is empty for
// account-level calls. Code carries the exchange business code or HTTP
// status that produced the classification.
type Error struct {
	Kind   ErrorKind
	Op     string
	Symbol string
	Code   int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Symbol != "" {
		b.WriteString(" ")
		b.WriteString(e.Symbol)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from any error in the chain, or empty
// string when the error did not come from the adapter.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsRetryable reports whether the retry loop should attempt err again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// classifyStatus maps an HTTP status to an error kind, before the body
// envelope is consulted.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429 || status >= 500:
		return KindTransient
	default:
		return KindValidation
	}
}

// Business codes this engine distinguishes in order rejections. Anything
// else falls through to keyword matching on the reject message.
const (
	codeInvalidLeverage     = 11004 // TE_INVALID_LEVERAGE
	codeInsufficientBalance = 11001 // TE_NO_ENOUGH_AVAILABLE_BALANCE
	codeInvalidPriceEdge    = 11057 // order price outside mark-price band
)

// classifyBusiness turns a non-zero envelope code into a typed error.
func classifyBusiness(op, symbol string, code int, msg string) *Error {
	kind := KindValidation
	switch code {
	case codeInvalidLeverage:
		kind = KindInvalidLeverage
	case codeInsufficientBalance:
		kind = KindInvalidQty
	case codeInvalidPriceEdge:
		kind = KindPriceOutOfBand
	default:
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "symbol"):
			kind = KindInvalidSymbol
		case strings.Contains(lower, "leverage"):
			kind = KindInvalidLeverage
		case strings.Contains(lower, "band") || strings.Contains(lower, "out of range"):
			kind = KindPriceOutOfBand
		case strings.Contains(lower, "price"):
			kind = KindInvalidPrice
		case strings.Contains(lower, "qty") || strings.Contains(lower, "quantity") ||
			strings.Contains(lower, "size") || strings.Contains(lower, "balance"):
			kind = KindInvalidQty
		}
	}

	return &Error{Kind: kind, Op: op, Symbol: symbol, Code: code, Msg: msg}
}
