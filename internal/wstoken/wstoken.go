// Package wstoken issues and verifies short-lived tokens that gate the
// browser WebSocket upgrade. A token is "expiry:signature" where expiry is a
// unix timestamp and the signature is HMAC-SHA256 over the expiry string.
package wstoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TTL bounds how long an issued token stays valid.
const TTL = 5 * time.Minute

// Issuer signs and verifies tokens with a shared secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer builds an issuer over the given secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue returns a fresh token valid for TTL.
func (i *Issuer) Issue() string {
	expiry := strconv.FormatInt(i.now().Add(TTL).Unix(), 10)
	return expiry + ":" + i.sign(expiry)
}

// Verify checks structure, signature and expiry. The signature comparison is
// constant-time.
func (i *Issuer) Verify(token string) error {
	expiry, sig, ok := strings.Cut(token, ":")
	if !ok {
		return fmt.Errorf("malformed token")
	}
	if !hmac.Equal([]byte(sig), []byte(i.sign(expiry))) {
		return fmt.Errorf("invalid token signature")
	}
	ts, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed token expiry")
	}
	if i.now().Unix() > ts {
		return fmt.Errorf("token expired")
	}
	return nil
}

func (i *Issuer) sign(expiry string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(expiry))
	return hex.EncodeToString(mac.Sum(nil))
}
