package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPhoneFieldUnset: для типа объекта не выбрано поле с номером телефона.
	ErrPhoneFieldUnset = errors.New("phone field not configured")
	ErrNoPhone         = errors.New("record has no phone number")
)

// RecordRepository: записи CRM (контакты, лиды и т.п.) и настройка поля телефона для каждого типа.
type RecordRepository struct {
	pool *pgxpool.Pool
}

func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// PhoneField возвращает имя поля с телефоном для objectType или ErrPhoneFieldUnset.
func (r *RecordRepository) PhoneField(ctx context.Context, objectType string) (string, error) {
	defer logger.DeferLogDuration("record.PhoneField", time.Now())()
	var field string
	err := r.pool.QueryRow(ctx,
		`SELECT field_name FROM phone_field_settings WHERE object_type = $1`, objectType,
	).Scan(&field)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && field == "") {
		return "", ErrPhoneFieldUnset
	}
	if err != nil {
		return "", fmt.Errorf("recordRepo.PhoneField: %w", err)
	}
	return field, nil
}

func (r *RecordRepository) SetPhoneField(ctx context.Context, objectType, field string) error {
	defer logger.DeferLogDuration("record.SetPhoneField", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO phone_field_settings (object_type, field_name, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (object_type) DO UPDATE SET field_name = EXCLUDED.field_name, updated_at = EXCLUDED.updated_at`,
		objectType, strings.TrimSpace(field), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recordRepo.SetPhoneField: %w", err)
	}
	return nil
}

// Fields перечисляет поля, встречающиеся у записей objectType (кандидаты для выбора поля телефона).
func (r *RecordRepository) Fields(ctx context.Context, objectType string) ([]string, error) {
	defer logger.DeferLogDuration("record.Fields", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT k FROM records, jsonb_object_keys(fields) AS k WHERE object_type = $1 ORDER BY k`, objectType,
	)
	if err != nil {
		return nil, fmt.Errorf("recordRepo.Fields query: %w", err)
	}
	defer rows.Close()
	fields, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("recordRepo.Fields: %w", err)
	}
	return fields, nil
}

// Resolve находит собеседника по записи: имя и номер из настроенного поля (только цифры).
func (r *RecordRepository) Resolve(ctx context.Context, rc model.RecordContext) (model.Counterparty, error) {
	field, err := r.PhoneField(ctx, rc.ObjectType)
	if err != nil {
		return model.Counterparty{}, err
	}
	defer logger.DeferLogDuration("record.Resolve", time.Now())()
	var cp model.Counterparty
	var phone *string
	err = r.pool.QueryRow(ctx,
		`SELECT name, fields ->> $3 FROM records WHERE object_type = $1 AND record_id = $2`,
		rc.ObjectType, rc.RecordID, field,
	).Scan(&cp.Name, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Counterparty{}, ErrNotFound
	}
	if err != nil {
		return model.Counterparty{}, fmt.Errorf("recordRepo.Resolve: %w", err)
	}
	if phone == nil || model.NormalizePhone(*phone) == "" {
		return model.Counterparty{}, ErrNoPhone
	}
	cp.Phone = model.NormalizePhone(*phone)
	return cp, nil
}
