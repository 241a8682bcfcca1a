package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
)

const maxTemplates = 200

type TemplateRepository struct {
	pool *pgxpool.Pool
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// List возвращает шаблоны канала для типа объекта; q: поиск по имени без учёта регистра.
func (r *TemplateRepository) List(ctx context.Context, objectType string, ch model.Channel, q string) ([]model.Template, error) {
	defer logger.DeferLogDuration("template.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, body, header, channel, object_type
		 FROM templates
		 WHERE channel = $1 AND (object_type = $2 OR object_type = '')
		   AND ($3 = '' OR name ILIKE '%' || $3 || '%')
		 ORDER BY name
		 LIMIT $4`, string(ch), objectType, escapeLike(strings.TrimSpace(q)), maxTemplates,
	)
	if err != nil {
		return nil, fmt.Errorf("templateRepo.List query: %w", err)
	}
	defer rows.Close()

	templates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Template, error) {
		var t model.Template
		var header, channel string
		err := row.Scan(&t.ID, &t.Name, &t.Body, &header, &channel, &t.ObjectType)
		t.Header = model.TemplateHeader(header)
		t.Channel = model.Channel(channel)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("templateRepo.List: %w", err)
	}
	return templates, nil
}

func (r *TemplateRepository) Get(ctx context.Context, id string) (*model.Template, error) {
	defer logger.DeferLogDuration("template.Get", time.Now())()
	var t model.Template
	var header, channel string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, body, header, channel, object_type FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Body, &header, &channel, &t.ObjectType)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("templateRepo.Get: %w", err)
	}
	t.Header = model.TemplateHeader(header)
	t.Channel = model.Channel(channel)
	return &t, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
