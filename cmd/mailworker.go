/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/learnhub/lmsapi/config"
	"github.com/learnhub/lmsapi/internal/logging"
	"github.com/learnhub/lmsapi/internal/mail"
	"github.com/learnhub/lmsapi/internal/mq"
	"github.com/spf13/cobra"
)

// mailWorkerCmd represents the mailworker command
var mailWorkerCmd = &cobra.Command{
	Use:   "mail-worker",
	Short: "Delivers queued account emails",
	Long: `Consumes the mail queue and delivers each message through Mailtrap.
Only needed when the server runs with MAIL_DELIVERY=queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logging.New(cfg.Env)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mailer, err := mail.NewMailtrapClient(cfg.Mail)
		if err != nil {
			return err
		}

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer func() {
			if err := broker.Close(); err != nil {
				log.Error("failed to close broker", slog.Any("error", err))
			}
		}()

		consumer := mail.NewConsumer(broker, cfg.Mail.Queue, mailer, log)
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailWorkerCmd)
}
