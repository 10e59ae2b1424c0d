package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/sentences"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres"), "postgres", zap.NewNop()), mock
}

func sampleRecords() []sentences.LayoutRecord {
	return []sentences.LayoutRecord{
		{Content: "Variables are names.", BBox: &sentences.Rect{X0: 0, Y0: 0, X1: 100, Y1: 10}, PageIndex: 1, BlockType: "text"},
	}
}

func TestSaveLayoutUpserts(t *testing.T) {
	s, mock := mockStore(t)
	docID := uuid.New()

	mock.ExpectExec("INSERT INTO document_layouts").
		WithArgs(docID.String(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.SaveLayout(context.Background(), docID, sampleRecords()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadLayoutRoundTrip(t *testing.T) {
	s, mock := mockStore(t)
	docID := uuid.New()

	payload, err := json.Marshal(sampleRecords())
	require.NoError(t, err)
	mock.ExpectQuery("SELECT layout FROM document_layouts").
		WithArgs(docID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"layout"}).AddRow(string(payload)))

	got, err := s.LoadLayout(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Variables are names.", got[0].Content)
	require.NotNil(t, got[0].BBox)
	assert.Equal(t, sentences.Rect{X0: 0, Y0: 0, X1: 100, Y1: 10}, *got[0].BBox)
}

func TestLoadLayoutNotFound(t *testing.T) {
	s, mock := mockStore(t)
	docID := uuid.New()

	mock.ExpectQuery("SELECT layout FROM document_layouts").
		WithArgs(docID.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.LoadLayout(context.Background(), docID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadLayoutDecodeError(t *testing.T) {
	s, mock := mockStore(t)
	docID := uuid.New()

	mock.ExpectQuery("SELECT layout FROM document_layouts").
		WithArgs(docID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"layout"}).AddRow("{not json"))

	_, err := s.LoadLayout(context.Background(), docID)
	assert.Error(t, err)
}

func TestDeleteLayout(t *testing.T) {
	s, mock := mockStore(t)
	docID := uuid.New()

	mock.ExpectExec("DELETE FROM document_layouts").
		WithArgs(docID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.DeleteLayout(context.Background(), docID))
}
