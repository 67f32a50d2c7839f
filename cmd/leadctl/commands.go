package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"lead-qualifier/internal/alert"
	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/auth"
	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/leads"
	"lead-qualifier/internal/queue"
	"lead-qualifier/internal/rbac"
	"lead-qualifier/internal/reporting"
	"lead-qualifier/internal/sink"

	"github.com/spf13/cobra"
)

func tokenCommand(a *app) *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the ops API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("role must be %q or %q", rbac.RoleOperator, rbac.RoleViewer)
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), user, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "operator id recorded on commands")
	cmd.Flags().StringVar(&role, "role", rbac.RoleViewer, "operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// readNotification loads a notification body from a file, or stdin for "-".
func readNotification(cmd *cobra.Command, path, messageID string) (leads.Notification, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return leads.Notification{}, err
	}
	return leads.Notification{
		MessageID:  messageID,
		From:       "leadctl",
		Subject:    "manual",
		Body:       string(raw),
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseCommand() *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a notification body and print the lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := readNotification(cmd, args[0], "")
			if err != nil {
				return err
			}
			lead, err := leads.ParseNotification(n, region)
			if err != nil {
				return err
			}
			return printJSON(cmd, lead)
		},
	}
	cmd.Flags().StringVar(&region, "region", "US", "default phone region")
	return cmd
}

func enqueueCommand(a *app) *cobra.Command {
	var messageID string
	cmd := &cobra.Command{
		Use:   "enqueue FILE",
		Short: "Parse a notification body and queue the lead for a call",
		Long:  "Parse a notification body and queue the lead for a call. Leads already seen by the poller are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.config()
			if err != nil {
				return err
			}
			n, err := readNotification(cmd, args[0], messageID)
			if err != nil {
				return err
			}
			lead, err := leads.ParseNotification(n, cfg.FollowUp.DefaultRegion)
			if err != nil {
				return err
			}

			rdb, err := a.redis(ctx)
			if err != nil {
				return err
			}
			fresh, err := correlation.NewRedisStore(rdb).MarkIfNew(ctx, correlation.DedupKey(lead.Key), cfg.Session.DedupTTL)
			if err != nil {
				return err
			}
			if !fresh {
				return fmt.Errorf("lead %s already processed", lead.Key)
			}

			tasks := queue.NewClient(queue.RedisOpt(cfg), cfg.Queue)
			defer tasks.Close()
			if err := tasks.EnqueueLead(ctx, lead); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", lead.Key, lead.Phone)
			return nil
		},
	}
	cmd.Flags().StringVar(&messageID, "message-id", "", "Message-ID of the original email, for dedup against the poller")
	return cmd
}

func replayCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay-fallback",
		Short: "Push rows parked in the fallback store to Airtable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.Airtable.APIKey == "" || cfg.Airtable.BaseID == "" {
				return errors.New("AIRTABLE_API_KEY and AIRTABLE_BASE_ID are required")
			}
			db, err := a.postgres(ctx)
			if err != nil {
				return err
			}
			table, err := sink.NewAirtableClient(cfg.Airtable, &http.Client{Timeout: 15 * time.Second})
			if err != nil {
				return err
			}
			w := sink.NewWriter(table, sink.NewPostgresFallback(db), alert.LogAlerter{Log: a.log}, cfg.Airtable.MaxAttempts)
			n, err := w.Replay(ctx, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d rows\n", n)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to replay")
	return cmd
}

func reportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "report [today|week|month]",
		Short:     "Print the lead report for a period",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(reporting.PeriodToday), string(reporting.PeriodWeek), string(reporting.PeriodMonth)},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var p string
			if len(args) == 1 {
				p = args[0]
			}
			period, err := reporting.ParsePeriod(p)
			if err != nil {
				return err
			}
			db, err := a.postgres(ctx)
			if err != nil {
				return err
			}
			rep, err := reporting.NewService(audit.NewPostgresRepo(db)).LeadReport(ctx, period)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
	return cmd
}
