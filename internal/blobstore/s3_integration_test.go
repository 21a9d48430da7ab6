package blobstore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/mixmaster/internal/config"
)

func TestS3_MinIO(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Skipping integration tests")
	}
	ctx := context.Background()

	port := nat.Port("9000/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{string(port)},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minio",
				"MINIO_ROOT_PASSWORD": "minio123",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort(port).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	endpoint, err := container.PortEndpoint(ctx, port, "http")
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewS3(ctx, config.BlobStorage{
		Bucket:          "mixmaster-test",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		UsePathStyle:    true,
	}, "test", log)
	require.NoError(t, err)

	key := UploadKey("acc-1", "vocal.wav")
	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, key, strings.NewReader("RIFFdata"), 8, ContentType(key)))

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	link, err := store.PresignGet(ctx, key, time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RIFFdata", string(body))

	require.NoError(t, store.Delete(ctx, key))
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Delete(ctx, key))
}
