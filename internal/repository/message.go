package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/timeline"
)

// recordTimeLayout: формат CreatedDate, в котором записи отдаются нормализатору.
const recordTimeLayout = "2006-01-02T15:04:05.000-0700"

// maxConversationMessages: сколько последних сообщений канала отдаётся в ленту.
const maxConversationMessages = 2000

// MessageRepository: хранилище сообщений обоих каналов. SMS хранятся с номером в формате "+digits",
// WhatsApp: только цифрами.
type MessageRepository struct {
	pool  *pgxpool.Pool
	limit int
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool, limit: maxConversationMessages}
}

func formatRecordTime(t time.Time) string {
	return t.UTC().Format(recordTimeLayout)
}

func formatRecordTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatRecordTime(*t)
}

func (r *MessageRepository) ListSMS(ctx context.Context, phone string) ([]model.RawSMS, error) {
	defer logger.DeferLogDuration("msg.ListSMS", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, delivery_status, channel, body, from_number, to_number, scheduled_at, created_at FROM (
		     SELECT id, type, delivery_status, channel, body, from_number, to_number, scheduled_at, created_at
		     FROM sms_messages
		     WHERE phone = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) latest
		 ORDER BY created_at ASC, id ASC`, model.E164(phone), r.limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListSMS query: %w", err)
	}
	defer rows.Close()

	var out []model.RawSMS
	for rows.Next() {
		var m model.RawSMS
		var scheduledAt *time.Time
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.Type, &m.DeliveryStatus, &m.Channel, &m.Body, &m.From, &m.To, &scheduledAt, &createdAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListSMS scan: %w", err)
		}
		m.CreatedDate = formatRecordTime(createdAt)
		m.ScheduledDateTime = formatRecordTimePtr(scheduledAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListSMS rows: %w", err)
	}
	return out, nil
}

func (r *MessageRepository) ListWhatsApp(ctx context.Context, phone string) ([]model.RawWhatsApp, error) {
	defer logger.DeferLogDuration("msg.ListWhatsApp", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, delivery_status, channel, body, media_url, template_id, scheduled_at, created_at FROM (
		     SELECT id, type, delivery_status, channel, body, media_url, template_id, scheduled_at, created_at
		     FROM whatsapp_messages
		     WHERE phone = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) latest
		 ORDER BY created_at ASC, id ASC`, model.NormalizePhone(phone), r.limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListWhatsApp query: %w", err)
	}
	defer rows.Close()

	var out []model.RawWhatsApp
	for rows.Next() {
		var m model.RawWhatsApp
		var scheduledAt *time.Time
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.Type, &m.DeliveryStatus, &m.Channel, &m.Body, &m.MediaURL, &m.TemplateID, &scheduledAt, &createdAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListWhatsApp scan: %w", err)
		}
		m.CreatedDate = formatRecordTime(createdAt)
		m.ScheduledDateTime = formatRecordTimePtr(scheduledAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListWhatsApp rows: %w", err)
	}
	return out, nil
}

// CreateMessageRecord пишет исходящее SMS до вызова шлюза и возвращает его id.
func (r *MessageRepository) CreateMessageRecord(ctx context.Context, rec model.MessageRecord) (string, error) {
	defer logger.DeferLogDuration("msg.CreateMessageRecord", time.Now())()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sms_messages (id, phone, type, delivery_status, channel, body, to_number, created_at)
		 VALUES ($1, $2, 'Outbound', $3, 'SMS', $4, $2, $5)`,
		rec.ID, model.E164(rec.Phone), rec.Status, rec.Body, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("msgRepo.CreateMessageRecord: %w", err)
	}
	return rec.ID, nil
}

// CreateScheduleRecord пишет запланированное SMS (статус Scheduled) до вызова шлюза.
func (r *MessageRepository) CreateScheduleRecord(ctx context.Context, rec model.ScheduleRecord) (string, error) {
	defer logger.DeferLogDuration("msg.CreateScheduleRecord", time.Now())()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sms_messages (id, phone, type, delivery_status, channel, body, to_number, scheduled_at, created_at)
		 VALUES ($1, $2, 'Outbound', $3, 'SMS', $4, $2, $5, $6)`,
		rec.ID, model.E164(rec.Phone), rec.Status, rec.Body, rec.At.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("msgRepo.CreateScheduleRecord: %w", err)
	}
	return rec.ID, nil
}

// UpdateStatus меняет статус доставки; ErrNotFound, если записи нет ни в одном канале.
func (r *MessageRepository) UpdateStatus(ctx context.Context, ch model.Channel, id string, status model.DeliveryStatus) error {
	defer logger.DeferLogDuration("msg.UpdateStatus", time.Now())()
	table, err := tableFor(ch)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE `+table+` SET delivery_status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert сохраняет запись, пришедшую от провайдера (входящее сообщение или смена статуса).
// Повторная доставка того же id обновляет статус и тело, created_at не меняется.
func (r *MessageRepository) Upsert(ctx context.Context, phone, recordID string, raw model.RawMessage) error {
	defer logger.DeferLogDuration("msg.Upsert", time.Now())()
	rec := raw.Record()
	if rec.ID == "" {
		return fmt.Errorf("msgRepo.Upsert: empty id")
	}
	createdAt, ok := timeline.ParseTimestamp(rec.CreatedDate)
	if !ok {
		createdAt = time.Now().UTC()
	}
	var scheduledAt *time.Time
	if t, ok := timeline.ParseTimestamp(rec.ScheduledDateTime); ok {
		scheduledAt = &t
	}

	var err error
	switch m := raw.(type) {
	case model.RawSMS:
		_, err = r.pool.Exec(ctx,
			`INSERT INTO sms_messages (id, phone, record_id, type, delivery_status, channel, body, from_number, to_number, scheduled_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET delivery_status = EXCLUDED.delivery_status, body = EXCLUDED.body,
			     scheduled_at = COALESCE(EXCLUDED.scheduled_at, sms_messages.scheduled_at)`,
			m.ID, model.E164(phone), recordID, m.Type, m.DeliveryStatus, channelOr(m.Channel, model.ChannelSMS), m.Body, m.From, m.To, scheduledAt, createdAt,
		)
	case model.RawWhatsApp:
		_, err = r.pool.Exec(ctx,
			`INSERT INTO whatsapp_messages (id, phone, record_id, type, delivery_status, channel, body, media_url, template_id, scheduled_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET delivery_status = EXCLUDED.delivery_status, body = EXCLUDED.body,
			     media_url = EXCLUDED.media_url, scheduled_at = COALESCE(EXCLUDED.scheduled_at, whatsapp_messages.scheduled_at)`,
			m.ID, model.NormalizePhone(phone), recordID, m.Type, m.DeliveryStatus, channelOr(m.Channel, model.ChannelWhatsApp), m.Body, m.MediaURL, m.TemplateID, scheduledAt, createdAt,
		)
	default:
		return fmt.Errorf("msgRepo.Upsert: unsupported record %T", raw)
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Upsert: %w", err)
	}
	return nil
}

func channelOr(s string, fallback model.Channel) string {
	if ch, ok := model.ParseChannel(s); ok {
		return string(ch)
	}
	return string(fallback)
}

func tableFor(ch model.Channel) (string, error) {
	switch ch {
	case model.ChannelSMS:
		return "sms_messages", nil
	case model.ChannelWhatsApp:
		return "whatsapp_messages", nil
	}
	return "", fmt.Errorf("msgRepo: unknown channel %q", ch)
}
