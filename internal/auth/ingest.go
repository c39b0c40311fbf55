package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Device signature headers.
const (
	HeaderDeviceTimestamp = "X-CoSafe-Timestamp"
	HeaderDeviceSignature = "X-CoSafe-Signature"
)

const maxSignedBody = 1 << 20

// DeviceSignatureMiddleware lets sensors post readings signed with a shared secret
// instead of a user token.
type DeviceSignatureMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
	now     func() time.Time
}

// NewDeviceSignatureMiddleware constructs the middleware.
func NewDeviceSignatureMiddleware(secret []byte, maxSkew time.Duration) *DeviceSignatureMiddleware {
	return &DeviceSignatureMiddleware{Secret: secret, MaxSkew: maxSkew, now: time.Now}
}

// Wrap verifies signed requests and passes them to next with a device identity.
// Unsigned requests go to fallback.
func (m *DeviceSignatureMiddleware) Wrap(next, fallback http.Handler) http.Handler {
	if m == nil || len(m.Secret) == 0 {
		return fallback
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamp := strings.TrimSpace(r.Header.Get(HeaderDeviceTimestamp))
		signature := strings.TrimSpace(r.Header.Get(HeaderDeviceSignature))
		if timestamp == "" && signature == "" {
			fallback.ServeHTTP(w, r)
			return
		}
		if timestamp == "" || signature == "" {
			http.Error(w, "missing device signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid device timestamp", http.StatusUnauthorized)
			return
		}
		skew := m.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.MaxSkew > 0 && skew > m.MaxSkew {
			http.Error(w, "device signature expired", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		expected := SignDevicePayload(m.Secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			http.Error(w, "invalid device signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := WithIdentity(r.Context(), "", RoleOperator, "device")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SignDevicePayload returns the hex HMAC-SHA256 of timestamp, newline and body.
func SignDevicePayload(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
