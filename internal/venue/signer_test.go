package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSignerSignsSortedParams(t *testing.T) {
	s := NewSigner("secret", 5*time.Second)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("side", "BUY")
	params.Set("quantity", "0.5")
	params.Set("signature", "stale")

	query := s.Sign(params)

	wantPayload := "quantity=0.5&recvWindow=5000&side=BUY&symbol=BTCUSDT&timestamp=1700000000000"
	if !strings.HasPrefix(query, wantPayload+"&signature=") {
		t.Fatalf("unexpected query: %s", query)
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(wantPayload))
	want := hex.EncodeToString(mac.Sum(nil))

	parsed, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery returned error: %v", err)
	}
	if got := parsed["signature"]; len(got) != 1 || got[0] != want {
		t.Fatalf("signature mismatch: got %v want %s", got, want)
	}
	if params.Get("timestamp") != "" {
		t.Errorf("Sign must not mutate caller params")
	}
}

func TestSignerChangesWithTimestamp(t *testing.T) {
	s := NewSigner("secret", 0)
	now := time.UnixMilli(1)
	s.now = func() time.Time { return now }

	params := url.Values{"symbol": {"ETHUSDT"}}
	first := s.Sign(params)
	now = now.Add(time.Millisecond)
	second := s.Sign(params)

	if first == second {
		t.Fatalf("signatures must differ when timestamp changes")
	}
	if !strings.Contains(first, "recvWindow=5000") {
		t.Errorf("expected default recvWindow, got %s", first)
	}
}
