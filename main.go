package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"marketing-analytics/config"
	"marketing-analytics/consumer"
	"marketing-analytics/models"
	"marketing-analytics/stats"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "marketing-analytics",
		Short:         "Visit ledger and analytics for a small service business",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with settings")

	load := func() (*config.Config, error) {
		return config.Load(envFile)
	}

	cmd.AddCommand(
		serveCmd(load),
		botCmd(load),
		consumeCmd(load),
		statsCmd(load),
		exportCmd(load),
		versionCmd(load),
	)
	return cmd
}

type loader func() (*config.Config, error)

func serveCmd(load loader) *cobra.Command {
	var withBot bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{cache: true, events: true, search: true, database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// бот в том же процессе пишет через тот же Ledger
			botDone := make(chan error, 1)
			if withBot {
				b, err := a.newBot()
				if err != nil {
					return err
				}
				if _, err := b.Check(ctx); err != nil {
					return err
				}
				go func() { botDone <- b.Run(ctx) }()
			} else {
				close(botDone)
			}

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           a.router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				a.logger.Printf("Server is running on port %s", cfg.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					stop()
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Printf("Server shutdown error: %v", err)
			}
			return <-botDone
		},
	}
	cmd.Flags().BoolVar(&withBot, "bot", false, "Also run the Telegram bot in this process")
	return cmd
}

func botCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{cache: true, events: true})
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.newBot()
			if err != nil {
				return err
			}
			a.serveMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := b.Check(ctx); err != nil {
				return err
			}
			return b.Run(ctx)
		},
	}
}

func consumeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Mirror visit events into Postgres, Elasticsearch and Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.KafkaBroker == "" {
				return fmt.Errorf("KAFKA_BROKER is not set")
			}
			a, err := newApp(cfg, appOptions{cache: true, search: true, database: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.serveMetrics()

			c := consumer.NewVisitConsumer(
				consumer.NewReader(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroup),
				consumer.Options{
					Repo:   a.mirror,
					Cache:  a.cache,
					ES:     a.search,
					Index:  cfg.ElasticsearchIndex,
					Logger: a.logger,
				},
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c.Start(ctx)
			<-ctx.Done()
			<-c.Done()
			return c.Close()
		},
	}
}

func statsCmd(load loader) *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print today's and a month's statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			day, err := a.ledger.TodayStats(ctx)
			if err != nil {
				return err
			}
			ms, err := a.ledger.MonthStats(ctx, month)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), day, ms)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (default: current month)")
	return cmd
}

func printStats(w io.Writer, day stats.DayStats, ms stats.MonthStats) {
	fmt.Fprintf(w, "Today %s: clients %d, records %d, income %d, salary %.2f\n",
		day.Date, day.Clients, day.Records, day.Income, day.Salary)
	fmt.Fprintf(w, "Month %s: clients %d, records %d, income %d\n",
		ms.Month, ms.Clients, ms.Records, ms.Income)
	for _, d := range ms.ByDirection {
		fmt.Fprintf(w, "  %-10s clients %d, income %d\n", d.Direction, d.Clients, d.Income)
	}
}

func exportCmd(load loader) *cobra.Command {
	var (
		format     string
		out        string
		directions []string
		services   []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export rows as CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			var write func(io.Writer, []models.Visit) error
			switch format {
			case "csv":
				write = models.WriteCSV
			case "xlsx":
				write = models.WriteXLSX
			default:
				return fmt.Errorf("unknown format %q (csv or xlsx)", format)
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			filter := stats.Filter{Services: services}
			for _, d := range directions {
				filter.Directions = append(filter.Directions, models.Direction(d))
			}
			visits, err := a.ledger.Filtered(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return write(cmd.OutOrStdout(), visits)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := write(f, visits); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringSliceVar(&directions, "direction", nil, "Only these directions")
	cmd.Flags().StringSliceVar(&services, "service", nil, "Only these services")
	return cmd
}

func versionCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marketing-analytics %s (%s)\n", cfg.AppVersion, cfg.AppEnv)
			return nil
		},
	}
}
