package signer

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	echoAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	EchoMinLen   = 30
	EchoMaxLen   = 40
)

// NewEchoStr returns a random alphanumeric nonce between 30 and 40 characters.
func NewEchoStr() (string, error) {
	span, err := rand.Int(rand.Reader, big.NewInt(EchoMaxLen-EchoMinLen+1))
	if err != nil {
		return "", err
	}
	n := EchoMinLen + int(span.Int64())

	out := make([]byte, n)
	max := big.NewInt(int64(len(echoAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = echoAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// FormatValue stringifies a parameter value deterministically. Decimals and
// floats never use exponent notation.
func FormatValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case decimal.Decimal:
		return t.String(), nil
	case *decimal.Decimal:
		if t == nil {
			return "", ErrEmptyValue
		}
		return t.String(), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("signer: unsupported parameter type %T", v)
	}
}

// Params converts a loosely typed parameter map.
func Params(in map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, err := FormatValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
