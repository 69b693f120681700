package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

// Directory answers existence checks against the doctors and patients tables.
type Directory struct {
	db bun.IDB
}

func NewDirectory(db bun.IDB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.db.NewSelect().
		Model((*domain.Doctor)(nil)).
		Where("id = ?", id).
		Exists(ctx)
}

func (d *Directory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.db.NewSelect().
		Model((*domain.Patient)(nil)).
		Where("id = ?", id).
		Exists(ctx)
}

const blockDurationKey = "block_duration_minutes"

type systemSetting struct {
	bun.BaseModel `bun:"table:system_settings"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SettingsReader reads the block duration from system_settings and falls back to a
// configured default when the row is absent or unusable.
type SettingsReader struct {
	db       bun.IDB
	fallback time.Duration
}

func NewSettingsReader(db bun.IDB, fallback time.Duration) *SettingsReader {
	return &SettingsReader{db: db, fallback: fallback}
}

func (s *SettingsReader) BlockDuration(ctx context.Context) (time.Duration, error) {
	var row systemSetting
	err := s.db.NewSelect().
		Model(&row).
		Where("key = ?", blockDurationKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(classify(err), store.ErrNotFound) {
			return s.fallback, nil
		}
		return 0, err
	}

	minutes, err := strconv.Atoi(strings.TrimSpace(row.Value))
	if err != nil || minutes <= 0 {
		return s.fallback, nil
	}
	return time.Duration(minutes) * time.Minute, nil
}

// SetBlockDuration upserts the block duration setting.
func (s *SettingsReader) SetBlockDuration(ctx context.Context, d time.Duration) error {
	row := systemSetting{
		Key:       blockDurationKey,
		Value:     strconv.Itoa(int(d / time.Minute)),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
