package models

import "time"

// ReservationKind описывает источник права, удержанного под задачу.
type ReservationKind string

const (
	KindFree         ReservationKind = "free"
	KindCredit       ReservationKind = "credit"
	KindSubscription ReservationKind = "subscription"
	KindLifetime     ReservationKind = "lifetime"
)

// Consuming сообщает, списывает ли резервирование единицу баланса.
func (k ReservationKind) Consuming() bool {
	return k == KindFree || k == KindCredit
}

// ReservationStatus — состояние резервирования.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation — временное удержание одного права на обработку до исхода задачи.
// На одну задачу приходится не более одного активного (reserved или committed) резервирования.
type Reservation struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	JobID     string            `json:"job_id"`
	Kind      ReservationKind   `json:"kind"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Active сообщает, удерживает ли резервирование право.
func (r *Reservation) Active() bool {
	return r.Status == ReservationReserved || r.Status == ReservationCommitted
}
