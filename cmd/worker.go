/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sapphybara/change-and-charm-api/config"
	"github.com/sapphybara/change-and-charm-api/internal/logger"
	"github.com/sapphybara/change-and-charm-api/internal/mail"
	"github.com/sapphybara/change-and-charm-api/internal/mq"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers queued mail over SMTP",
	Long: `Consumes the mail channel of the configured message queue and sends
every message over SMTP. Requires MQ_BACKEND and the EMAIL_* settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger.Setup(cfg.LogLevel)

		if cfg.MQ.Backend == "" {
			return errors.New("worker requires MQ_BACKEND")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer queue.Close()

		mailer, err := mail.NewSMTPMailer(cfg.Mail)
		if err != nil {
			return err
		}

		slog.Info("mail worker started", "channel", cfg.Mail.Channel, "backend", cfg.MQ.Backend)
		if err := mail.Consume(ctx, queue, cfg.Mail.Channel, mailer); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
