package models

import (
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
)

// JobInputs содержит ссылки на входные файлы в blob-хранилище.
type JobInputs struct {
	VocalHandle string `json:"vocal_handle"`
	BeatHandle  string `json:"beat_handle"`
}

// ProcessingOptions — параметры сведения и мастеринга, переданные пользователем.
type ProcessingOptions struct {
	Genre             string  `json:"genre"`
	ReverbAmount      float64 `json:"reverb_amount"`
	CompressionAmount float64 `json:"compression_amount"`
	OutputFormat      string  `json:"output_format"`
}

// DefaultProcessingOptions возвращает параметры по умолчанию.
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		Genre:             "default",
		ReverbAmount:      0.3,
		CompressionAmount: 0.5,
		OutputFormat:      "wav",
	}
}

// Job — запись о задаче обработки.
// OutputReference заполняется только в состоянии complete, ErrorDetail — только в error.
type Job struct {
	ID              string            `json:"id"`
	OwnerAccountID  string            `json:"owner_account_id"`
	State           jobstate.State    `json:"state"`
	Progress        int               `json:"progress"`
	Inputs          JobInputs         `json:"inputs"`
	Options         ProcessingOptions `json:"options"`
	OutputReference string            `json:"output_reference,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// JobStatus — проекция задачи для опрашивающего клиента.
type JobStatus struct {
	JobID           string         `json:"job_id"`
	State           jobstate.State `json:"state"`
	Progress        int            `json:"progress"`
	OutputReference string         `json:"output_reference,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Status строит проекцию задачи для клиента.
func (j *Job) Status() JobStatus {
	return JobStatus{
		JobID:           j.ID,
		State:           j.State,
		Progress:        j.Progress,
		OutputReference: j.OutputReference,
		ErrorDetail:     j.ErrorDetail,
		UpdatedAt:       j.UpdatedAt,
	}
}
