package callerauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func signedRequest(t *testing.T, body string, now time.Time) (*http.Request, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, err := Sign(key, http.MethodPost, "/test", ts, []byte(body))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set(HeaderAddress, addr.Hex())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	return req, addr
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"seller":"0x00000000000000000000000000000000000000b2"}`
	now := time.Unix(1_700_000_000, 0)
	req, addr := signedRequest(t, body, now)

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	rec := httptest.NewRecorder()

	var got common.Address
	var gotBody []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFrom(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	v.Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got != addr {
		t.Fatalf("caller = %s, want %s", got.Hex(), addr.Hex())
	}
	if string(gotBody) != body {
		t.Fatalf("handler saw body %q", gotBody)
	}
}

func TestMiddleware_RejectsForeignSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req, _ := signedRequest(t, `{}`, now)
	req.Header.Set(HeaderAddress, "0x00000000000000000000000000000000000000c3")

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsTamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req, _ := signedRequest(t, `{"amount":"1"}`, now)
	tampered := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"amount":"2"}`))
	tampered.Header = req.Header.Clone()

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	if _, err := v.verify(tampered); err != ErrInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestMiddleware_RejectsOtherRoute(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req, _ := signedRequest(t, ``, now)
	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}

	moved := httptest.NewRequest(http.MethodPost, "/other", nil)
	moved.Header = req.Header.Clone()
	if _, err := v.verify(moved); err != ErrInvalidSignature {
		t.Fatalf("expected invalid signature for another path, got %v", err)
	}

	method := httptest.NewRequest(http.MethodPut, "/test", nil)
	method.Header = req.Header.Clone()
	if _, err := v.verify(method); err != ErrInvalidSignature {
		t.Fatalf("expected invalid signature for another method, got %v", err)
	}
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := strings.Repeat("x", 2048)
	req, _ := signedRequest(t, body, now)

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }, MaxBody: 1024}
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMessageLayout(t *testing.T) {
	got := string(Message("post", "/api/v1/escrows/1/refund", "1700000000", []byte(`{}`)))
	want := "POST\n/api/v1/escrows/1/refund\n1700000000\n{}"
	if got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req, _ := signedRequest(t, `{}`, now.Add(-5*time.Minute))

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	if _, err := v.verify(req); err != ErrStaleTimestamp {
		t.Fatalf("expected stale timestamp, got %v", err)
	}
}

func TestMiddleware_TrustHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set(HeaderAddress, "0x00000000000000000000000000000000000000a1")

	v := &Verifier{TrustHeader: true}
	got, err := v.verify(req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != common.HexToAddress("0x00000000000000000000000000000000000000a1") {
		t.Fatalf("unexpected caller %s", got.Hex())
	}

	req.Header.Del(HeaderAddress)
	if _, err := v.verify(req); err != ErrMissingAddress {
		t.Fatalf("expected missing address, got %v", err)
	}
}

func TestParsePrivateKeyAcceptsPrefix(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	parsed, err := ParsePrivateKey(hexKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if crypto.PubkeyToAddress(parsed.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("parsed key differs")
	}
}
