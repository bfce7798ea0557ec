package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/bigkaa/goartstore/provision-module/internal/domain/model"
)

// contentColumns — столбцы contents и присоединённого text_contents.
const contentColumns = `c.id, c.company_id, c.title, c.description, c.type, c.url,
	c.cover, c.total_likes, c.created_at, c.updated_at, c.deleted_at,
	t.id, t.content_id, t.text, t.created_at, t.updated_at`

// findContentQuery — поиск активной записи в пределах компании
// с eager-загрузкой текстового тела.
var findContentQuery = fmt.Sprintf(`
	SELECT %s
	FROM contents c
	LEFT JOIN text_contents t ON t.id = c.text_content_id
	WHERE c.id = $1 AND c.company_id = $2 AND c.deleted_at IS NULL`, contentColumns)

// ContentRepository — доступ к контенту в разрезе компании.
type ContentRepository interface {
	// Find возвращает запись по id в пределах tenantID.
	// Удалённые (soft delete) и чужие записи — ErrNotFound.
	Find(ctx context.Context, id, tenantID string) (*model.ContentRecord, error)
}

// contentRepo — реализация ContentRepository через pgx.
type contentRepo struct {
	db DBTX
}

// NewContentRepository создаёт репозиторий контента.
func NewContentRepository(db DBTX) ContentRepository {
	return &contentRepo{db: db}
}

// Find возвращает запись контента или ErrNotFound.
func (r *contentRepo) Find(ctx context.Context, id, tenantID string) (*model.ContentRecord, error) {
	c := &model.ContentRecord{}
	var (
		textID        pgtype.Text
		textContentID pgtype.Text
		text          pgtype.Text
		textCreatedAt pgtype.Timestamptz
		textUpdatedAt pgtype.Timestamptz
	)

	err := r.db.QueryRow(ctx, findContentQuery, id, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Title, &c.Description, &c.Type, &c.URL,
		&c.Cover, &c.TotalLikes, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
		&textID, &textContentID, &text, &textCreatedAt, &textUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения контента: %w", err)
	}

	// LEFT JOIN без совпадения — текстового тела нет
	if textID.Valid {
		tc := &model.TextContent{
			ID:        textID.String,
			ContentID: textContentID.String,
			CreatedAt: textCreatedAt.Time,
			UpdatedAt: textUpdatedAt.Time,
		}
		if text.Valid {
			s := text.String
			tc.Text = &s
		}
		c.TextContent = tc
	}

	return c, nil
}
