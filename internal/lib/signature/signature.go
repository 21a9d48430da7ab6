// Package signature проверяет подпись уведомлений платёжного провайдера.
//
// Заголовок имеет вид "t=<unix>,v1=<base64(HMAC-SHA256(secret, t + "." + body))>".
// Метка времени входит в подписанные данные, поэтому перехваченное уведомление
// нельзя повторить позже допуска.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadFormat        = errors.New("bad signature format")
	ErrMismatch         = errors.New("signature mismatch")
	ErrExpired          = errors.New("signature timestamp outside tolerance")
)

// Verifier проверяет подписи общим секретом.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// New создаёт Verifier. Нулевой tolerance отключает проверку времени.
func New(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock возвращает копию Verifier с подменённым временем.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

// Sign строит заголовок подписи для body в момент at.
func (v *Verifier) Sign(body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + v.mac(ts, body)
}

// Verify проверяет заголовок header для тела body.
func (v *Verifier) Verify(body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrBadFormat
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrBadFormat
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadFormat
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return ErrExpired
		}
	}

	expected := []byte(v.mac(ts, body))
	for _, sig := range sigs {
		// сравнение за постоянное время
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrMismatch
}

func (v *Verifier) mac(ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
