package dsp

import "github.com/magabrotheeeer/mixmaster/internal/models"

// Analysis — результат анализа дорожек.
type Analysis struct {
	Tempo         float64 `json:"tempo"`
	Key           string  `json:"key"`
	VocalLoudness float64 `json:"vocal_loudness"`
	BeatLoudness  float64 `json:"beat_loudness"`
}

type analyzeRequest struct {
	JobID       string `json:"job_id"`
	VocalHandle string `json:"vocal_handle"`
	BeatHandle  string `json:"beat_handle"`
}

type mixRequest struct {
	JobID       string                   `json:"job_id"`
	VocalHandle string                   `json:"vocal_handle"`
	BeatHandle  string                   `json:"beat_handle"`
	Analysis    *Analysis                `json:"analysis"`
	Options     models.ProcessingOptions `json:"options"`
}

type mixResponse struct {
	MixHandle string `json:"mix_handle"`
}

type masterRequest struct {
	JobID     string                   `json:"job_id"`
	MixHandle string                   `json:"mix_handle"`
	OutputKey string                   `json:"output_key"`
	Options   models.ProcessingOptions `json:"options"`
}

type masterResponse struct {
	OutputHandle string `json:"output_handle"`
}

type errorResponse struct {
	Error string `json:"error"`
}
