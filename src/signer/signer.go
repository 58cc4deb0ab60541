// Package signer produces LBank request signatures.
//
// The canonical string is the alphabetically sorted k=v list of every
// request parameter plus api_key, signature_method, timestamp and echostr.
// Its uppercase hex MD5 digest is then signed with either HMAC-SHA256
// (hex output) or RSA-SHA256 (base64 output).
package signer

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type Method string

const (
	MethodHMAC Method = "HmacSHA256"
	MethodRSA  Method = "RSA"
)

const (
	ParamAPIKey          = "api_key"
	ParamSignatureMethod = "signature_method"
	ParamTimestamp       = "timestamp"
	ParamEchoStr         = "echostr"
	ParamSign            = "sign"
)

var (
	ErrEmptyParams   = errors.New("signer: empty parameter set")
	ErrEmptyValue    = errors.New("signer: empty parameter value")
	ErrUnknownMethod = errors.New("signer: unknown signature method")
	ErrInvalidKey    = errors.New("signer: invalid signing key")
)

// Signer signs the MD5 digest of a canonical request string.
type Signer interface {
	Method() Method
	Sign(digest string) (string, error)
}

// SignedRequest is ready to be sent as a form body.
type SignedRequest struct {
	Params    map[string]string
	Canonical string
	Digest    string
	Signature string
}

// Form returns the request body including the sign field.
func (r *SignedRequest) Form() url.Values {
	form := url.Values{}
	for k, v := range r.Params {
		form.Set(k, v)
	}
	form.Set(ParamSign, r.Signature)
	return form
}

// New picks the signer for method. An empty method means HMAC.
func New(method string, secret string) (Signer, error) {
	switch Method(method) {
	case MethodHMAC, "":
		if secret == "" {
			return nil, ErrInvalidKey
		}
		return NewHMACSigner(secret), nil
	case MethodRSA:
		return NewRSASigner(secret)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Sign injects the auth parameters into params, builds the canonical string
// and signs it. params is not modified. The api key counts as a parameter:
// empty params fail with ErrEmptyParams only when apiKey is empty too.
func Sign(s Signer, apiKey string, params map[string]string, timestamp int64, echostr string) (*SignedRequest, error) {
	if len(params) == 0 && apiKey == "" {
		return nil, ErrEmptyParams
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyValue, ParamAPIKey)
	}

	all := make(map[string]string, len(params)+4)
	for k, v := range params {
		if k == "" {
			return nil, ErrEmptyParams
		}
		all[k] = v
	}
	all[ParamAPIKey] = apiKey
	all[ParamSignatureMethod] = string(s.Method())
	all[ParamTimestamp] = strconv.FormatInt(timestamp, 10)
	all[ParamEchoStr] = echostr

	canonical := Canonical(all)
	digest := Digest(canonical)
	sig, err := s.Sign(digest)
	if err != nil {
		return nil, err
	}

	return &SignedRequest{
		Params:    all,
		Canonical: canonical,
		Digest:    digest,
		Signature: sig,
	}, nil
}

// Canonical joins params as k=v pairs sorted by key, without URL encoding.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Digest is the uppercase hex MD5 of the canonical string.
func Digest(canonical string) string {
	sum := md5.Sum([]byte(canonical))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

func (s *HMACSigner) Method() Method { return MethodHMAC }

func (s *HMACSigner) Sign(digest string) (string, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(digest))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

type RSASigner struct {
	key *rsa.PrivateKey
}

// NewRSASigner accepts a PEM block or the bare base64 DER that LBank hands
// out, in PKCS#8 or PKCS#1 form.
func NewRSASigner(secret string) (*RSASigner, error) {
	der, err := decodeKey(secret)
	if err != nil {
		return nil, err
	}

	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
		}
		return &RSASigner{key: key}, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &RSASigner{key: key}, nil
}

func decodeKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidKey
	}
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return der, nil
}

func (s *RSASigner) Method() Method { return MethodRSA }

func (s *RSASigner) Sign(digest string) (string, error) {
	hashed := sha256.Sum256([]byte(digest))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hashed[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
