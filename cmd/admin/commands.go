package main

import (
	"fmt"
	"strconv"
	"time"

	"helpdesk/backend/internal/api/handler"
	"helpdesk/backend/internal/autoreply"
	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/lifecycle"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/similarity"
	"helpdesk/backend/internal/sla"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var slaCheckCmd = &cobra.Command{
	Use:   "sla-check",
	Short: "Run one SLA breach scan now",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		sender := channel.NewCloudSender(e.cfg.ChannelAPIURL, e.cfg.ChannelPhoneID, e.cfg.ChannelToken, e.cfg.ChannelRatePerSecond)
		// No hub here: in-app notifications are left to the running servers.
		monitor := sla.NewMonitor(e.store, e.store, sender, nil, e.texts, e.cfg, nil)
		report, err := monitor.Scan(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var embedRulesCmd = &cobra.Command{
	Use:   "embed-rules",
	Short: "Regenerate the similarity vectors of every active rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		engine := autoreply.NewEngine(e.store, similarity.NewClient(e.cfg.SimilarityURL), nil, nil, e.cfg.Location(), nil)
		stored, err := engine.EmbedRules(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Stored %d rule embeddings.\n", stored)
		return nil
	},
}

var completeCycleFlags struct {
	userID      string
	saleAmount  string
	notes       string
	finalStatus uint
	quotation   uint
}

var completeCycleCmd = &cobra.Command{
	Use:   "complete-cycle <conversation_id>",
	Short: "Complete the active cycle of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		req := lifecycle.CompleteCycleRequest{
			ConversationID: uint(id),
			Actor:          lifecycle.SystemActor,
			Notes:          completeCycleFlags.notes,
		}
		if completeCycleFlags.userID != "" {
			req.Actor = lifecycle.Actor{UserID: completeCycleFlags.userID, Role: models.RoleAdmin}
		}
		if completeCycleFlags.saleAmount != "" {
			amount, err := decimal.NewFromString(completeCycleFlags.saleAmount)
			if err != nil {
				return fmt.Errorf("invalid sale amount: %w", err)
			}
			req.SaleAmount = &amount
		}
		if completeCycleFlags.finalStatus != 0 {
			req.FinalStatusID = &completeCycleFlags.finalStatus
		}
		if completeCycleFlags.quotation != 0 {
			req.QuotationID = &completeCycleFlags.quotation
		}

		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		svc := lifecycle.NewService(e.store, nil, e.texts, e.cfg.AlertLang)
		res, err := svc.CompleteCycle(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var resolveStatusCmd = &cobra.Command{
	Use:   "resolve-status",
	Short: "Show the status new conversations start in",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		svc := lifecycle.NewService(e.store, nil, e.texts, e.cfg.AlertLang)
		status, err := svc.InitialStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var tokenFlags struct {
	role string
	name string
	ttl  time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token <user_id>",
	Short: "Sign an agent token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		tok, err := handler.SignToken([]byte(e.cfg.JWTSecret), args[0], tokenFlags.role, tokenFlags.name, tokenFlags.ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	f := completeCycleCmd.Flags()
	f.StringVar(&completeCycleFlags.userID, "as", "", "user id recorded as completing the cycle (default: system)")
	f.StringVar(&completeCycleFlags.saleAmount, "sale-amount", "", "final sale amount")
	f.StringVar(&completeCycleFlags.notes, "notes", "", "outcome notes")
	f.UintVar(&completeCycleFlags.finalStatus, "final-status", 0, "status to apply before completing")
	f.UintVar(&completeCycleFlags.quotation, "quotation", 0, "winning quotation id")

	tf := tokenCmd.Flags()
	tf.StringVar(&tokenFlags.role, "role", models.RoleAgent, "agent or admin")
	tf.StringVar(&tokenFlags.name, "name", "", "display name")
	tf.DurationVar(&tokenFlags.ttl, "ttl", 72*time.Hour, "token lifetime")
}
