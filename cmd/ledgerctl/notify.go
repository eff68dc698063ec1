package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"charity_ledger/internal/services"
)

func notifyTestCmd() *cobra.Command {
	var (
		phone string
		email string
		msg   string
	)

	cmd := &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test message through the WhatsApp or email channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" && email == "" {
				return fmt.Errorf("provide --phone or --email")
			}
			if err := godotenv.Load(); err != nil {
				log.Println("Note: .env file not found")
			}

			if phone != "" {
				chatID := services.NormalizeChatID(phone)
				log.Printf("Sending WhatsApp message to %s", chatID)
				if err := services.NewWahaService().SendMessage(cmd.Context(), chatID, msg); err != nil {
					return fmt.Errorf("failed to send WhatsApp message: %w", err)
				}
			}
			if email != "" {
				log.Printf("Sending email to %s", email)
				if err := services.NewEmailService().SendEmail(cmd.Context(), []string{email}, "Ledger notification test", msg); err != nil {
					return err
				}
			}

			log.Println("Message sent successfully!")
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "Phone number (e.g. 628123456789)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&msg, "msg", "Test message from the donation ledger", "Message body")
	return cmd
}
