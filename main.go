package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	config "github.com/phillip/impact-audit-go/config"
	jobs "github.com/phillip/impact-audit-go/jobs"
	routes "github.com/phillip/impact-audit-go/routes"
	services "github.com/phillip/impact-audit-go/services"
	store "github.com/phillip/impact-audit-go/store"
	utils "github.com/phillip/impact-audit-go/utils"
)

var rootCmd = &cobra.Command{
	Use:   "impact-audit",
	Short: "Audit lifecycle and escrow settlement engine",
	Long: `impact-audit runs the milestone audit engine: auditor matching and
assignment, report quality gating, escrow settlement, auditor compensation
and escrow interest accrual.

serve starts the HTTP API with the in-process scheduler. The sweep, accrue
and reconcile subcommands run a single pass and exit, for deployments that
drive the periodic work from external cron.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the in-process job scheduler",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one assignment lifecycle sweep and exit",
	Args:  cobra.NoArgs,
	RunE:  runSweepOnce,
}

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Run one interest accrual pass and exit",
	Args:  cobra.NoArgs,
	RunE:  runAccrueOnce,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile escrow interest against the platform ledger and exit",
	Args:  cobra.NoArgs,
	RunE:  runReconcileOnce,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(accrueCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment")
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// baseDeps wires the store and notifier every command needs.
func baseDeps(cfg *config.Config) (*store.Store, *services.Notifier) {
	st := store.New(cfg.MongoClient, cfg.DBName)
	notifier := services.NewNotifier(st, utils.SendEmail, cfg.OpsEmail)
	return st, notifier
}

func newAssigner(cfg *config.Config, st *store.Store, notifier *services.Notifier) *services.Assigner {
	matcher := services.NewMatcher(st, cfg.Engine.Matching)
	return services.NewAssigner(st, matcher, notifier, cfg.Engine.Assignment)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	defer cfg.Close()

	st, notifier := baseDeps(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.EnsureIndexes(ctx); err != nil {
		cancel()
		return err
	}
	cancel()

	payments, err := utils.PaymentsClientFromEnv()
	if err != nil {
		return err
	}

	assigner := newAssigner(cfg, st, notifier)
	settler := services.NewSettler(st, payments.CreateTransfer, cfg.Engine.Settlement)
	compensator := services.NewCompensator(st, cfg.Engine.Compensation)
	submissions := services.NewSubmissionEngine(st, settler, compensator, notifier, cfg.Engine.Quality)
	interest := services.NewInterestEngine(st, notifier, cfg.Engine.Interest)

	scheduler, err := jobs.NewScheduler(cfg, assigner, interest)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	scheduler.Start()

	r := gin.Default()
	r.Use(cors.New(corsConfig(cfg)))

	routes.SetupRoutes(r, cfg, routes.Deps{
		Store:       st,
		Assigner:    assigner,
		Submissions: submissions,
		Interest:    interest,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	// Let in-flight jobs finish before closing the server and the client.
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "If-None-Match"},
		ExposeHeaders: []string{"ETag", "Last-Modified"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	return corsCfg
}

func runSweepOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	defer cfg.Close()

	st, notifier := baseDeps(cfg)
	assigner := newAssigner(cfg, st, notifier)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, err := assigner.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("sweep: expired=%d reminders=%d assigned=%d escalated=%d failed=%d\n",
		summary.Expired, summary.RemindersSent, summary.Assigned, summary.Escalated, summary.Failed)
	return nil
}

func runAccrueOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	defer cfg.Close()

	st, notifier := baseDeps(cfg)
	interest := services.NewInterestEngine(st, notifier, cfg.Engine.Interest)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := interest.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("accrual: processed=%d skipped=%d failed=%d accrued=%d cents\n",
		summary.Processed, summary.Skipped, summary.Failed, summary.InterestAccrued)
	return nil
}

func runReconcileOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	defer cfg.Close()

	st, notifier := baseDeps(cfg)
	interest := services.NewInterestEngine(st, notifier, cfg.Engine.Interest)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := interest.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.WithinTolerance {
		fmt.Printf("reconcile: consistent escrow=%d ledger=%d diff=%d\n",
			report.EscrowTotal, report.LedgerTotal, report.Difference)
	} else {
		fmt.Printf("reconcile: DISCREPANCY escrow=%d ledger=%d diff=%d ticket=%s\n",
			report.EscrowTotal, report.LedgerTotal, report.Difference, report.TicketReference)
	}
	return nil
}
