package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
)

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	Date       string
	Patients   int
	Mix        OperationMix
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	cfg := SimConfig{}
	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent OPD traffic against a running api-server and verify slot capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&cfg.APIBaseURL, "base-url", "http://localhost:8080", "api-server base URL")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "How long to generate load")
	f.IntVar(&cfg.Workers, "workers", 10, "Concurrent workers")
	f.StringVar(&cfg.Date, "date", time.Now().UTC().Format(allocation.DateLayout), "Schedule date to book against")
	f.IntVar(&cfg.Patients, "patients", 2000, "Size of the simulated patient population")
	f.Float64Var(&cfg.Mix.Allocate, "allocate", 0.55, "Share of allocate calls")
	f.Float64Var(&cfg.Mix.Cancel, "cancel", 0.1, "Share of cancellations")
	f.Float64Var(&cfg.Mix.NoShow, "no-show", 0.05, "Share of no-shows")
	f.Float64Var(&cfg.Mix.Emergency, "emergency", 0.03, "Share of emergency insertions")
	f.Float64Var(&cfg.Mix.Delay, "delay", 0.02, "Share of slot delays")
	f.Float64Var(&cfg.Mix.Read, "read", 0.25, "Share of status and token reads")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *SimConfig) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if c.Patients <= 0 {
		return fmt.Errorf("--patients must be > 0")
	}
	if _, err := time.Parse(allocation.DateLayout, c.Date); err != nil {
		return fmt.Errorf("invalid --date %q: %w", c.Date, err)
	}
	return c.Mix.normalize()
}

type Simulator struct {
	config  SimConfig
	client  *apiClient
	pool    *DataPool
	doctors []string
	metrics Metrics
	logger  zerolog.Logger
}

func run(ctx context.Context, cfg SimConfig, logger zerolog.Logger) error {
	client := &apiClient{baseURL: cfg.APIBaseURL, http: &http.Client{Timeout: 10 * time.Second}}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	pool, doctors, err := loadDataPool(loadCtx, client, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}
	logger.Info().Int("doctors", len(doctors)).Int("slots", len(pool.Slots)).Int("patients", len(pool.Patients)).Msg("data pool loaded")

	sim := &Simulator{config: cfg, client: client, pool: pool, doctors: doctors, logger: logger}
	sim.Run(ctx)
	sim.metrics.PrintReport(cfg)

	violations, err := sim.CheckCapacity(ctx)
	if err != nil {
		return fmt.Errorf("capacity check: %w", err)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			logger.Error().Msg(v)
		}
		return fmt.Errorf("%d capacity violations", len(violations))
	}
	logger.Info().Msg("capacity check passed")
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.logger.Info().Msg("simulation complete")
}

// CheckCapacity re-reads every schedule and reports slots whose seated tokens
// exceed capacity or disagree with the stored occupancy.
func (s *Simulator) CheckCapacity(ctx context.Context) ([]string, error) {
	var violations []string
	for _, doctorID := range s.doctors {
		sched, err := s.client.schedule(ctx, doctorID, s.config.Date)
		if err != nil {
			return nil, err
		}
		for _, ss := range sched.Slots {
			seated := 0
			for _, t := range ss.Tokens {
				if allocation.TokenStatus(t.Status).HoldsSeat() {
					seated++
				}
			}
			if seated > ss.Slot.MaxCapacity {
				violations = append(violations, fmt.Sprintf("slot %s (%s): %d seated over capacity %d",
					ss.Slot.ID, doctorID, seated, ss.Slot.MaxCapacity))
			}
			if seated != ss.Slot.CurrentOccupancy {
				violations = append(violations, fmt.Sprintf("slot %s (%s): occupancy %d but %d seated tokens",
					ss.Slot.ID, doctorID, ss.Slot.CurrentOccupancy, seated))
			}
		}
	}
	return violations, nil
}
