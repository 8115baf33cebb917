// Package callerauth authenticates the caller address of a request from a
// wallet signature over the request method, path, timestamp and body.
package callerauth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HeaderAddress   = "X-Caller-Address"
	HeaderTimestamp = "X-Request-Timestamp"
	HeaderSignature = "X-Request-Signature"
)

var (
	ErrMissingAddress   = errors.New("missing caller address")
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// DefaultMaxBody bounds the body read before the signature is checked.
const DefaultMaxBody = 64 << 10

type callerKey struct{}

// CallerFrom returns the authenticated caller stored by the middleware.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller stores addr as the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
	// TrustHeader accepts X-Caller-Address without a signature. Local
	// development only.
	TrustHeader bool
	// MaxBody caps the signed body, DefaultMaxBody when zero.
	MaxBody int64
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, v.maxBody())
		}
		caller, err := v.verify(r)
		if err != nil {
			status, code := http.StatusUnauthorized, "Unauthenticated"
			if errors.Is(err, ErrBodyTooLarge) {
				status, code = http.StatusRequestEntityTooLarge, "BodyTooLarge"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   code,
				"message": err.Error(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (v *Verifier) maxBody() int64 {
	if v.MaxBody > 0 {
		return v.MaxBody
	}
	return DefaultMaxBody
}

func (v *Verifier) verify(r *http.Request) (common.Address, error) {
	addrHeader := strings.TrimSpace(r.Header.Get(HeaderAddress))
	if !common.IsHexAddress(addrHeader) {
		return common.Address{}, ErrMissingAddress
	}
	claimed := common.HexToAddress(addrHeader)
	if claimed == (common.Address{}) {
		return common.Address{}, ErrMissingAddress
	}
	if v.TrustHeader {
		return claimed, nil
	}

	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return common.Address{}, ErrMissingSignature
	}
	tsHeader := r.Header.Get(HeaderTimestamp)
	if tsHeader == "" {
		return common.Address{}, ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return common.Address{}, ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return common.Address{}, ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return common.Address{}, err
	}

	signer, err := Recover(r.Method, r.URL.Path, tsHeader, body, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return common.Address{}, ErrInvalidSignature
	}
	return signer, nil
}

// Recover returns the address that produced sig, a 65-byte personal_sign
// signature over the message built by Message.
func Recover(method, path, timestamp string, body []byte, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil || len(raw) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	// Wallets send V as 27/28.
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest(method, path, timestamp, body), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces the header value a wallet would send for the request.
func Sign(key *ecdsa.PrivateKey, method, path, timestamp string, body []byte) (string, error) {
	sig, err := crypto.Sign(digest(method, path, timestamp, body), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// ParsePrivateKey accepts a hex key with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Message is the text a caller signs: method, path and timestamp on their
// own lines, then the raw body.
func Message(method, path, timestamp string, body []byte) []byte {
	msg := make([]byte, 0, len(method)+len(path)+len(timestamp)+len(body)+3)
	msg = append(msg, strings.ToUpper(method)...)
	msg = append(msg, '\n')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	msg = append(msg, timestamp...)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	return msg
}

func digest(method, path, timestamp string, body []byte) []byte {
	return accounts.TextHash(Message(method, path, timestamp, body))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
