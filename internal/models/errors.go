package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyExists    = errors.New("already exists")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidInput     = errors.New("invalid input")
)

// DenialReason подсказывает клиенту путь повышения тарифа.
type DenialReason string

const (
	ReasonUpgrade   DenialReason = "upgrade"
	ReasonPurchase  DenialReason = "purchase"
	ReasonSubscribe DenialReason = "subscribe"
	ReasonRenew     DenialReason = "renew"
)

// EntitlementDeniedError возвращается, когда у аккаунта нет права на обработку.
type EntitlementDeniedError struct {
	Reason DenialReason
}

func (e *EntitlementDeniedError) Error() string {
	return fmt.Sprintf("entitlement denied: %s", e.Reason)
}

// ProcessingError — ошибка этапа обработки, переводящая задачу в error.
type ProcessingError struct {
	Stage  string
	Detail string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("processing failed at %s: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("processing failed at %s: %s", e.Stage, e.Detail)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
