package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed doctors, daily slots and patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			days, _ := cmd.Flags().GetInt("days")
			fakeDoctors, _ := cmd.Flags().GetInt("fake-doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			return runSeed(cmd.Context(), date, days, fakeDoctors, patients)
		},
	}
	rootCmd.Flags().String("date", time.Now().UTC().Format(allocation.DateLayout), "First date to seed (YYYY-MM-DD)")
	rootCmd.Flags().Int("days", 1, "Number of consecutive days to seed")
	rootCmd.Flags().Int("fake-doctors", 0, "Extra generated doctors on top of the default roster")
	rootCmd.Flags().Int("patients", 0, "Generated patients to register")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSeed(ctx context.Context, date string, days, fakeDoctors, patients int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	// Seeding writes outside any slot lock, so skip connecting to Redis.
	cfg.LockBackend = config.LockLocal

	logger := app.NewLogger(cfg, "seed")
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn().Msg("memory store selected, seeded data is discarded on exit")
	}

	start, err := time.Parse(allocation.DateLayout, date)
	if err != nil {
		return fmt.Errorf("invalid --date %q: %w", date, err)
	}
	if days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	a, err := app.Open(ctx, cfg, "opd-seed", logger)
	if err != nil {
		return err
	}
	defer a.Close()

	f := gofakeit.New(uint64(time.Now().UnixNano()))
	doctors := append(allocation.DefaultDoctors(), fakeRoster(f, fakeDoctors)...)

	total := 0
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format(allocation.DateLayout)
		n, err := a.Engine.SeedDay(ctx, doctors, day)
		if err != nil {
			return fmt.Errorf("seed %s: %w", day, err)
		}
		total += n
	}
	logger.Info().Int("doctors", len(doctors)).Int("days", days).Int("slots", total).Msg("schedule seeded")

	if err := seedPatients(ctx, a.Engine, f, patients, logger); err != nil {
		return err
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedPatients(ctx context.Context, engine *allocation.Engine, f *gofakeit.Faker, count int, logger zerolog.Logger) error {
	for i, p := range fakePatients(f, count) {
		source := allocation.SourceOnlineBooking
		if p.IsFollowUp {
			source = allocation.SourceFollowUp
		}
		details := &allocation.PatientDetails{Name: p.Name, Phone: p.Phone}
		if p.Email != nil {
			details.Email = *p.Email
		}
		if err := engine.EnsurePatient(ctx, p.ID, source, details); err != nil {
			return fmt.Errorf("seed patient %s: %w", p.ID, err)
		}
		if (i+1)%500 == 0 {
			logger.Info().Int("done", i+1).Int("total", count).Msg("patients seeded")
		}
	}
	if count > 0 {
		logger.Info().Int("patients", count).Msg("patients seeded")
	}
	return nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.StoreBackend != config.StorePostgres {
		return fmt.Errorf("migrate needs STORE_BACKEND=postgres")
	}
	logger := app.NewLogger(cfg, "seed")

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.WithApplicationName("opd-seed"))
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := db.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info().Int("applied", n).Msg("migrations applied")
	return nil
}
