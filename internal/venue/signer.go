package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

const signatureParam = "signature"

// Signer 对查询参数追加时间戳与接收窗口后计算 HMAC-SHA256 签名。
type Signer struct {
	secret     []byte
	recvWindow time.Duration
	now        func() time.Time
}

// NewSigner 创建签名器。
func NewSigner(secret string, recvWindow time.Duration) *Signer {
	if recvWindow <= 0 {
		recvWindow = 5 * time.Second
	}
	return &Signer{
		secret:     []byte(secret),
		recvWindow: recvWindow,
		now:        time.Now,
	}
}

// Sign 返回带 signature 的完整查询串。签名覆盖按键排序后以 & 连接的全部参数，不含 signature 自身。
func (s *Signer) Sign(params url.Values) string {
	signed := url.Values{}
	for k, vs := range params {
		if k == signatureParam {
			continue
		}
		signed[k] = append([]string(nil), vs...)
	}
	signed.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	signed.Set("recvWindow", strconv.FormatInt(s.recvWindow.Milliseconds(), 10))

	payload := signed.Encode()
	return payload + "&" + signatureParam + "=" + s.digest(payload)
}

func (s *Signer) digest(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
