package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"plain endpoint", Config{Endpoint: "localhost:9000", Bucket: "photos"}, "http://localhost:9000"},
		{"scheme stripped", Config{Endpoint: "http://minio:9000", Bucket: "photos"}, "http://minio:9000"},
		{"tls", Config{Endpoint: "s3.example.com", Bucket: "photos", UseSSL: true}, "https://s3.example.com"},
		{"explicit public url", Config{Endpoint: "minio:9000", Bucket: "photos", PublicURL: "https://cdn.example.com/"}, "https://cdn.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(&tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, store.publicURL)
		})
	}
}

func TestObjectKey(t *testing.T) {
	userID := uuid.New()
	objectID := uuid.New()

	key := objectKey(userID, objectID, "image/png")
	assert.Equal(t, "avatars/"+userID.String()+"/"+objectID.String()+".png", key)
	assert.True(t, strings.HasPrefix(key, userPrefix(userID)))

	assert.Equal(t, "avatars/"+userID.String()+"/"+objectID.String(), objectKey(userID, objectID, "application/octet-stream"))
}

func TestObjectURL(t *testing.T) {
	store, err := New(&Config{Endpoint: "localhost:9000", Bucket: "profile-photos"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/profile-photos/avatars/x/y.jpg", store.objectURL("avatars/x/y.jpg"))
}

func TestForwardListing_PassesObjectsThrough(t *testing.T) {
	in := make(chan minio.ObjectInfo, 2)
	in <- minio.ObjectInfo{Key: "avatars/u/a.png"}
	in <- minio.ObjectInfo{Key: "avatars/u/b.png"}
	close(in)

	out, errc := forwardListing(context.Background(), in)

	var keys []string
	for obj := range out {
		keys = append(keys, obj.Key)
	}
	assert.Equal(t, []string{"avatars/u/a.png", "avatars/u/b.png"}, keys)
	assert.NoError(t, <-errc)
}

func TestForwardListing_StopsOnListingError(t *testing.T) {
	listErr := errors.New("access denied")
	in := make(chan minio.ObjectInfo, 3)
	in <- minio.ObjectInfo{Key: "avatars/u/a.png"}
	in <- minio.ObjectInfo{Err: listErr}
	in <- minio.ObjectInfo{Key: "avatars/u/b.png"}
	close(in)

	out, errc := forwardListing(context.Background(), in)

	var keys []string
	for obj := range out {
		keys = append(keys, obj.Key)
	}
	assert.Equal(t, []string{"avatars/u/a.png"}, keys)
	assert.ErrorIs(t, <-errc, listErr)
}

func TestForwardListing_CancelledConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan minio.ObjectInfo, 1)
	in <- minio.ObjectInfo{Key: "avatars/u/a.png"}
	close(in)

	_, errc := forwardListing(ctx, in)
	cancel()

	// Nobody reads out; the goroutine must still finish.
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forwardListing did not stop after cancellation")
	}
}
