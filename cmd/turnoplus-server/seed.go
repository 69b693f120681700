package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"turnoplus/backend/internal/domain"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert fake doctors and patients for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			seed, _ := cmd.Flags().GetUint64("seed")

			db, err := openDatabase(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(log, db)

			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			faker := gofakeit.New(seed)

			ctx := cmd.Context()
			return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				if err := seedDoctors(ctx, tx, faker, doctors); err != nil {
					return fmt.Errorf("seed doctors: %w", err)
				}
				if err := seedPatients(ctx, tx, faker, patients); err != nil {
					return fmt.Errorf("seed patients: %w", err)
				}
				log.Info("seed complete", slog.Int("doctors", doctors), slog.Int("patients", patients))
				return nil
			})
		},
	}
	cmd.Flags().Int("doctors", 20, "Number of doctors to insert")
	cmd.Flags().Int("patients", 500, "Number of patients to insert")
	cmd.Flags().Uint64("seed", 0, "Faker seed; 0 picks one from the clock")
	return cmd
}

func seedDoctors(ctx context.Context, db bun.IDB, faker *gofakeit.Faker, count int) error {
	if count <= 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.Doctor, count)
	for i := range rows {
		rows[i] = domain.Doctor{
			ID:        uuid.New(),
			FullName:  "Dr. " + faker.Name(),
			Specialty: specialties[faker.Number(0, len(specialties)-1)],
			CreatedAt: now,
		}
	}
	_, err := db.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func seedPatients(ctx context.Context, db bun.IDB, faker *gofakeit.Faker, count int) error {
	if count <= 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.Patient, count)
	for i := range rows {
		rows[i] = domain.Patient{
			ID:        uuid.New(),
			FullName:  faker.Name(),
			Email:     faker.Email(),
			CreatedAt: now,
		}
	}
	_, err := db.NewInsert().Model(&rows).Exec(ctx)
	return err
}
