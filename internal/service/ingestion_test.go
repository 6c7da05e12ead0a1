package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/storage"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

var testNow = time.Date(2025, 5, 19, 10, 0, 0, 0, time.UTC)

func newTestIngestion(blobs *fakeBlobStore, files *fakeFileStore, events EventPublisher, log *logger.Logger) *IngestionService {
	s := NewIngestionService(blobs, files, events, log)
	s.now = func() time.Time { return testNow }
	return s
}

func TestUploadStoresFile(t *testing.T) {
	blobs, files, events := newFakeBlobStore(), newFakeFileStore(), &recordingPublisher{}
	s := newTestIngestion(blobs, files, events, logger.NewNop())

	f, err := s.Upload(context.Background(), []byte("png-bytes"), "Receipt.PNG", 7)
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.ID)
	assert.Equal(t, int64(7), f.OwnerID)
	assert.Equal(t, "Receipt.PNG", f.OriginalName)
	assert.Equal(t, "image/png", f.MimeType)
	assert.Equal(t, int64(9), f.SizeBytes)
	assert.Regexp(t, `^invoice/2025/05/19/[0-9a-f]{32}\.png$`, f.StorageKey)
	assert.Equal(t, "https://cdn.example.com/"+f.StorageKey, f.StorageURL)
	assert.True(t, blobs.has(f.StorageKey))
	assert.Empty(t, blobs.deletes)
	assert.Equal(t, []model.EventType{model.EventFileUploaded}, events.types())
}

func TestUploadCompensatesWhenInsertFails(t *testing.T) {
	blobs, files := newFakeBlobStore(), newFakeFileStore()
	files.insertErr = errInjected
	events := &recordingPublisher{}
	s := newTestIngestion(blobs, files, events, logger.NewNop())

	f, err := s.Upload(context.Background(), []byte("%PDF-1.7"), "invoice.pdf", 7)
	require.Error(t, err)
	assert.Nil(t, f)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.Equal(t, apperr.CouldNotComplete, apperr.UserMessage(err))

	key := files.lastKey
	require.NotEmpty(t, key)
	assert.Equal(t, []string{key}, blobs.deletes)
	assert.False(t, blobs.has(key))

	// The compensating delete already removed the object.
	assert.ErrorIs(t, blobs.Delete(context.Background(), key), storage.ErrNotFound)
	assert.Empty(t, events.types())
}

func TestUploadCompensatesAfterCallerCancel(t *testing.T) {
	blobs, files := newFakeBlobStore(), newFakeFileStore()
	files.insertErr = context.Canceled
	s := newTestIngestion(blobs, files, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Upload(ctx, []byte("gif"), "a.gif", 1)
	require.Error(t, err)

	assert.Len(t, blobs.deletes, 1)
	assert.Empty(t, blobs.objects)
}

func TestUploadReportsOrphanWhenCompensationFails(t *testing.T) {
	blobs, files := newFakeBlobStore(), newFakeFileStore()
	files.insertErr = errInjected
	blobs.deleteErr = errInjected
	events := &recordingPublisher{}
	log, logs := observedLogger()
	s := newTestIngestion(blobs, files, events, log)

	f, err := s.Upload(context.Background(), []byte("xls"), "sheet.xlsx", 3)
	assert.Nil(t, f)
	assert.True(t, apperr.Is(err, apperr.KindStorage))

	assert.Len(t, blobs.deletes, 1)
	assert.Equal(t, 1, logs.FilterMessage("compensating delete failed, blob is orphaned").Len())
	require.Equal(t, []model.EventType{model.EventFileOrphaned}, events.types())
	assert.Equal(t, int64(3), events.events[0].OwnerID)
	assert.Equal(t, files.lastKey, events.events[0].Metadata["storage_key"])
}

func TestUploadValidationNeverTouchesStorage(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		fileName string
	}{
		{"unsupported extension", []byte("MZ"), "setup.exe"},
		{"no extension", []byte("data"), "README"},
		{"empty content", nil, "photo.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs, files := newFakeBlobStore(), newFakeFileStore()
			s := newTestIngestion(blobs, files, nil, logger.NewNop())

			f, err := s.Upload(context.Background(), tt.data, tt.fileName, 1)
			assert.Nil(t, f)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.NotEqual(t, apperr.CouldNotComplete, apperr.UserMessage(err))
			assert.Zero(t, blobs.puts)
			assert.Empty(t, blobs.deletes)
			assert.Empty(t, files.records)
		})
	}
}

func TestUploadPutFailureHasNothingToCompensate(t *testing.T) {
	blobs, files := newFakeBlobStore(), newFakeFileStore()
	blobs.putErr = errInjected
	s := newTestIngestion(blobs, files, nil, logger.NewNop())

	_, err := s.Upload(context.Background(), []byte("jpeg"), "a.jpeg", 1)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.ErrorIs(t, err, errInjected)
	assert.Empty(t, blobs.deletes)
	assert.Empty(t, files.records)
}

func TestFileChecksOwner(t *testing.T) {
	blobs, files := newFakeBlobStore(), newFakeFileStore()
	s := newTestIngestion(blobs, files, nil, logger.NewNop())

	f, err := s.Upload(context.Background(), []byte("bmp"), "scan.bmp", 5)
	require.NoError(t, err)

	got, err := s.File(context.Background(), 5, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.StorageKey, got.StorageKey)

	_, err = s.File(context.Background(), 6, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.File(context.Background(), 5, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
