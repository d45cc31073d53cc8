package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/extract"
	"github.com/s4jith/ncert-working/internal/rag"
)

func setupIngestTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Upload{}, &BookChapter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeExtractor struct {
	result *extract.Result
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (*extract.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeIndexer struct {
	upserted     []rag.ChunkInput
	classNum     string
	subject      string
	chapter      string
	sourceFile   string
	upsertErr    error
	deletedFile  string
	deletedSubj  string
	deleteCalled bool
}

func (f *fakeIndexer) UpsertChunks(ctx context.Context, chunks []rag.ChunkInput, classNum, subject, chapter, sourceFile string) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted = chunks
	f.classNum = classNum
	f.subject = subject
	f.chapter = chapter
	f.sourceFile = sourceFile
	return len(chunks), nil
}

func (f *fakeIndexer) DeleteSource(ctx context.Context, sourceFile, subject string) error {
	f.deleteCalled = true
	f.deletedFile = sourceFile
	f.deletedSubj = subject
	return nil
}

func textbookText() string {
	var paras []string
	for i := 0; i < 8; i++ {
		paras = append(paras, strings.Repeat(fmt.Sprintf("Chemical reactions sentence %d. ", i), 20))
	}
	return strings.Join(paras, "\n\n")
}

func seedUpload(t *testing.T, db *gorm.DB, path string) *Upload {
	t.Helper()
	upload := &Upload{
		ID:       "up-001",
		Filename: "class10_science_ch1.pdf",
		Path:     path,
		SizeMB:   2.5,
		ClassNum: "10",
		Subject:  "Science",
		Chapter:  "Chemical Reactions",
		Status:   StatusPending,
	}
	require.NoError(t, db.Create(upload).Error)
	return upload
}

func tempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "class10_science_ch1.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))
	return path
}

func TestProcessDocumentSuccess(t *testing.T) {
	db := setupIngestTestDB(t)
	upload := seedUpload(t, db, tempPDF(t))

	extractor := &fakeExtractor{result: &extract.Result{Text: textbookText(), PageCount: 12}}
	indexer := &fakeIndexer{}
	svc := NewService(db, extractor, indexer, config.IngestConfig{}, zap.NewNop())

	require.NoError(t, svc.ProcessDocument(context.Background(), upload.ID))

	var got Upload
	require.NoError(t, db.First(&got, "id = ?", upload.ID).Error)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, len(indexer.upserted), got.TotalChunks)
	require.Equal(t, 12, got.PageCount)
	require.NotEmpty(t, indexer.upserted)

	require.Equal(t, "10", indexer.classNum)
	require.Equal(t, "Science", indexer.subject)
	require.Equal(t, "class10_science_ch1.pdf", indexer.sourceFile)

	// 页码估算落在实际页数范围内
	for _, chunk := range indexer.upserted {
		require.GreaterOrEqual(t, chunk.Page, 1)
		require.LessOrEqual(t, chunk.Page, 12)
	}

	var chapter BookChapter
	require.NoError(t, db.First(&chapter, "id = ?", "10_Science_Chemical_Reactions").Error)
	require.Equal(t, len(indexer.upserted), chapter.TotalChunks)
}

func TestProcessDocumentExtractFailure(t *testing.T) {
	db := setupIngestTestDB(t)
	upload := seedUpload(t, db, tempPDF(t))

	extractor := &fakeExtractor{err: &extract.ExtractionError{File: upload.Filename, Chars: 12}}
	svc := NewService(db, extractor, &fakeIndexer{}, config.IngestConfig{}, zap.NewNop())

	err := svc.ProcessDocument(context.Background(), upload.ID)
	require.Error(t, err)

	var got Upload
	require.NoError(t, db.First(&got, "id = ?", upload.ID).Error)
	require.Equal(t, StatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, upload.Filename)
	// 失败时进度停在最后到达的检查点
	require.Equal(t, 15, got.Progress)
}

func TestProcessDocumentUpsertFailure(t *testing.T) {
	db := setupIngestTestDB(t)
	upload := seedUpload(t, db, tempPDF(t))

	extractor := &fakeExtractor{result: &extract.Result{Text: textbookText(), PageCount: 10}}
	indexer := &fakeIndexer{upsertErr: errors.New("index unavailable")}
	svc := NewService(db, extractor, indexer, config.IngestConfig{}, zap.NewNop())

	require.Error(t, svc.ProcessDocument(context.Background(), upload.ID))

	var got Upload
	require.NoError(t, db.First(&got, "id = ?", upload.ID).Error)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 65, got.Progress)
}

func TestProcessDocumentMissingFile(t *testing.T) {
	db := setupIngestTestDB(t)
	upload := seedUpload(t, db, filepath.Join(t.TempDir(), "missing.pdf"))

	extractor := &fakeExtractor{result: &extract.Result{Text: textbookText()}}
	svc := NewService(db, extractor, &fakeIndexer{}, config.IngestConfig{}, zap.NewNop())

	require.Error(t, svc.ProcessDocument(context.Background(), upload.ID))

	var got Upload
	require.NoError(t, db.First(&got, "id = ?", upload.ID).Error)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 0, got.Progress)
}

func TestProcessDocumentNotFound(t *testing.T) {
	db := setupIngestTestDB(t)
	svc := NewService(db, &fakeExtractor{}, &fakeIndexer{}, config.IngestConfig{}, zap.NewNop())

	err := svc.ProcessDocument(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUploadNotFound)
}

func TestDeleteUpload(t *testing.T) {
	db := setupIngestTestDB(t)
	path := tempPDF(t)
	upload := seedUpload(t, db, path)
	require.NoError(t, db.Create(&BookChapter{
		ID:       "10_Science_Chemical_Reactions",
		ClassNum: "10",
		Subject:  "Science",
		Chapter:  "Chemical Reactions",
	}).Error)

	indexer := &fakeIndexer{}
	svc := NewService(db, &fakeExtractor{}, indexer, config.IngestConfig{}, zap.NewNop())

	require.NoError(t, svc.DeleteUpload(context.Background(), upload.ID))
	require.True(t, indexer.deleteCalled)
	require.Equal(t, upload.Filename, indexer.deletedFile)
	require.Equal(t, "Science", indexer.deletedSubj)

	var count int64
	require.NoError(t, db.Model(&Upload{}).Count(&count).Error)
	require.Zero(t, count)
	require.NoError(t, db.Model(&BookChapter{}).Count(&count).Error)
	require.Zero(t, count)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestListUploadsPagination(t *testing.T) {
	db := setupIngestTestDB(t)
	svc := NewService(db, &fakeExtractor{}, &fakeIndexer{}, config.IngestConfig{}, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.CreateUpload(&Upload{
			ID:       fmt.Sprintf("up-%03d", i),
			Filename: fmt.Sprintf("book%d.pdf", i),
			Path:     "/tmp/x.pdf",
			ClassNum: "9",
			Subject:  "Mathematics",
			Chapter:  fmt.Sprintf("Chapter %d", i),
		}))
	}

	uploads, total, err := svc.ListUploads(1, 3)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, uploads, 3)

	counts, err := svc.CountByStatus()
	require.NoError(t, err)
	require.EqualValues(t, 5, counts[StatusPending])
}
