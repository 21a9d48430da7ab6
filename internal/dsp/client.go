// Package dsp — HTTP-клиент внешнего сервиса обработки звука.
// Сервис выполняет анализ, сведение и мастеринг и работает с файлами
// в общем blob-хранилище по их ключам.
package dsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/magabrotheeeer/mixmaster/internal/models"
)

// ErrRejected возвращается, когда сервис отклонил входные данные (4xx).
var ErrRejected = errors.New("dsp rejected input")

// Client вызывает сервис обработки.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиента сервиса по адресу baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze анализирует входные дорожки задачи.
func (c *Client) Analyze(ctx context.Context, job *models.Job) (*Analysis, error) {
	var out Analysis
	err := c.do(ctx, "/v1/analyze", analyzeRequest{
		JobID:       job.ID,
		VocalHandle: job.Inputs.VocalHandle,
		BeatHandle:  job.Inputs.BeatHandle,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("dsp.Analyze: %w", err)
	}
	return &out, nil
}

// Mix сводит вокал с битом и возвращает ключ промежуточного микса.
func (c *Client) Mix(ctx context.Context, job *models.Job, analysis *Analysis) (string, error) {
	var out mixResponse
	err := c.do(ctx, "/v1/mix", mixRequest{
		JobID:       job.ID,
		VocalHandle: job.Inputs.VocalHandle,
		BeatHandle:  job.Inputs.BeatHandle,
		Analysis:    analysis,
		Options:     job.Options,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("dsp.Mix: %w", err)
	}
	if out.MixHandle == "" {
		return "", errors.New("dsp.Mix: empty mix handle")
	}
	return out.MixHandle, nil
}

// Master выполняет мастеринг микса и сохраняет результат под outputKey.
func (c *Client) Master(ctx context.Context, job *models.Job, mixHandle, outputKey string) (string, error) {
	var out masterResponse
	err := c.do(ctx, "/v1/master", masterRequest{
		JobID:     job.ID,
		MixHandle: mixHandle,
		OutputKey: outputKey,
		Options:   job.Options,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("dsp.Master: %w", err)
	}
	if out.OutputHandle == "" {
		return "", errors.New("dsp.Master: empty output handle")
	}
	return out.OutputHandle, nil
}

func (c *Client) do(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var er errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &er) != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, er.Error)
		}
		return fmt.Errorf("unexpected status: %s: %s", resp.Status, er.Error)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
