package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aihub/usage-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newMockDB 创建基于 sqlmock 的 gorm 连接
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestConversationRepository_AppendMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE conversations\s+SET message_count = message_count \+ 1`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 7).
		WillReturnRows(sqlmock.NewRows([]string{"message_count"}).AddRow(3))
	mock.ExpectQuery(`INSERT INTO "conversation_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	msg := &models.ConversationMessage{ConversationID: 7, Role: models.RoleUser, Content: "hi"}
	require.NoError(t, repo.AppendMessage(context.Background(), msg))
	assert.Equal(t, 3, msg.Seq)
	assert.Equal(t, uint(11), msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepository_AppendMessageArchived(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"message_count"}))
	mock.ExpectQuery(`SELECT "is_archived" FROM "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"is_archived"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.AppendMessage(context.Background(), &models.ConversationMessage{ConversationID: 7, Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrArchived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepository_AppendMessageMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"message_count"}))
	mock.ExpectQuery(`SELECT "is_archived" FROM "conversations"`).
		WillReturnRows(sqlmock.NewRows([]string{"is_archived"}))
	mock.ExpectRollback()

	err := repo.AppendMessage(context.Background(), &models.ConversationMessage{ConversationID: 99, Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepository_AddUsage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectExec(`UPDATE "conversations" SET .*total_tokens \+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AddUsage(context.Background(), 7, 150, 0.0045))

	mock.ExpectExec(`UPDATE "conversations" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.AddUsage(context.Background(), 8, 1, 0), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_AddRating(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepository(db)

	mock.ExpectQuery(`UPDATE prompt_templates\s+SET avg_rating = \(rating_sum \+ \$1\)::numeric / \(rating_count \+ 1\),\s+rating_sum = rating_sum \+ \$2`).
		WithArgs(4, 4, sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "avg_rating", "rating_count", "rating_sum"}).AddRow(3, 4.5, 2, 9))

	tpl, err := repo.AddRating(context.Background(), 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 4.5, tpl.AvgRating)
	assert.Equal(t, 2, tpl.RatingCount)
	assert.Equal(t, int64(9), tpl.RatingSum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_IncrementUsage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepository(db)

	mock.ExpectExec(`UPDATE "prompt_templates" SET "usage_count"=usage_count \+ \$1 WHERE id = \$2`).
		WithArgs(1, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementUsage(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_ListAccessibleWithTag(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "prompt_templates" WHERE \(is_public = \$1 OR is_system = \$2 OR user_id = \$3\) AND tags @> \$4::jsonb`).
		WithArgs(true, true, 9, `["email"]`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "prompt_templates" WHERE .*ORDER BY usage_count DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug"}).AddRow(1, "Follow up", "follow-up"))

	templates, total, err := repo.List(context.Background(), TemplateFilter{ActorID: 9, Tag: "email"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, templates, 1)
	assert.Equal(t, "follow-up", templates[0].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_ListSearchEscapesWildcards(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "prompt_templates" WHERE .*name ILIKE \$4 ESCAPE '\\' OR description ILIKE \$5 ESCAPE '\\'`).
		WithArgs(true, true, 9, `%50\%\_off\\%`, `%50\%\_off\\%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM "prompt_templates" WHERE .*ORDER BY usage_count DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug"}))

	templates, total, err := repo.List(context.Background(), TemplateFilter{ActorID: 9, Search: `50%_off\`})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, templates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageLogRepository_Summary(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageLogRepository(db)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	user := uint(4)

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS total_requests.* FROM "usage_logs" WHERE usage_logs.created_at >= \$1 AND usage_logs.user_id = \$2`).
		WithArgs(since, 4).
		WillReturnRows(sqlmock.NewRows([]string{"total_requests", "successful_requests", "total_tokens", "total_cost", "avg_response_time"}).
			AddRow(10, 8, 1500, 0.25, 420.5))

	summary, err := repo.Summary(context.Background(), UsageFilter{Since: since, UserID: &user})
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.TotalRequests)
	assert.Equal(t, int64(8), summary.SuccessfulRequests)
	assert.Equal(t, int64(1500), summary.TotalTokens)
	assert.Equal(t, 0.25, summary.TotalCost)
	assert.Equal(t, 420.5, summary.AvgResponseTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageLogRepository_DailyEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageLogRepository(db)

	mock.ExpectQuery(`SELECT TO_CHAR\(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD'\) AS day.*GROUP BY "day"`).
		WillReturnRows(sqlmock.NewRows([]string{"day", "requests", "tokens", "cost", "avg_response_time"}))

	buckets, err := repo.Daily(context.Background(), UsageFilter{})
	require.NoError(t, err)
	assert.NotNil(t, buckets)
	assert.Empty(t, buckets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageLogRepository_CostByService(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageLogRepository(db)

	mock.ExpectQuery(`LEFT JOIN ai_models ON ai_models.id = usage_logs.model_id LEFT JOIN ai_services ON ai_services.id = ai_models.service_id`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "requests", "tokens", "cost"}).
			AddRow("openai", 3, 900, 0.09).
			AddRow("anthropic", 1, 100, 0.01))

	buckets, err := repo.CostByService(context.Background(), UsageFilter{})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "openai", buckets[0].Key)
	assert.Equal(t, 0.09, buckets[0].Cost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageLogRepository_Performance(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageLogRepository(db)

	mock.ExpectQuery(`WHERE response_time_ms IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"samples", "successful", "avg", "min", "max", "std_dev"}).
			AddRow(4, 3, 250.0, 100.0, 400.0, 111.8))

	row, err := repo.Performance(context.Background(), UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), row.Samples)
	assert.Equal(t, int64(3), row.Successful)
	assert.Equal(t, 400.0, row.Max)
	assert.Equal(t, 111.8, row.StdDev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageLogRepository_UnsupportedDimension(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsageLogRepository(db)

	_, err := repo.GroupBy(context.Background(), UsageFilter{}, Dimension("region"))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRegistry_PricingNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	registry := NewModelRegistry(db)

	mock.ExpectQuery(`SELECT \* FROM "ai_models" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := registry.Pricing(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
