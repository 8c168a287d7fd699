package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"payments_core/internal/db"
	"payments_core/internal/domain"
	"payments_core/internal/repository"
	"payments_core/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errDrift = errors.New("ledger drift detected")

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func parseTxnID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid transaction id %q", s)
	}
	return id, nil
}

func migrateCmd(e *env) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "List embedded migrations, or apply the pending ones with --apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := e.postgres(ctx)
			if err != nil {
				return err
			}
			if apply {
				done, err := db.Migrate(ctx, pool)
				if err != nil {
					return err
				}
				return e.print(cmd, done, fmt.Sprintf("applied %d migration(s) %s", len(done), strings.Join(done, " ")))
			}

			list, err := db.Migrations(ctx, pool)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, m := range list {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				fmt.Fprintf(&b, "%-8s %s\n", state, m.Name)
			}
			return e.print(cmd, list, strings.TrimRight(b.String(), "\n"))
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply pending migrations")
	return cmd
}

func verifyCmd(e *env) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every balance equals credits minus debits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			if userID != 0 {
				v, err := svc.Ledger.Verify(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if err := e.print(cmd, v, verificationText(v)); err != nil {
					return err
				}
				if !v.OK() {
					return errDrift
				}
				return nil
			}

			bad, err := svc.Ledger.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(bad)+1)
			for _, v := range bad {
				lines = append(lines, verificationText(v))
			}
			if len(bad) == 0 {
				lines = append(lines, "all balances match their ledger")
			}
			if err := e.print(cmd, bad, strings.Join(lines, "\n")); err != nil {
				return err
			}
			if len(bad) > 0 {
				return fmt.Errorf("%w for %d user(s)", errDrift, len(bad))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "verify a single user")
	return cmd
}

func verificationText(v *service.Verification) string {
	state := "ok"
	if !v.OK() {
		state = "DRIFT " + v.Drift().String()
	}
	return fmt.Sprintf("user %d balance=%s credits=%s debits=%s %s", v.UserID, v.Balance, v.Credits, v.Debits, state)
}

func rebuildCmd(e *env) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "rebuild-balances",
		Short: "Reset drifted balances to the ledger sum (dry run unless --apply)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := e.services(ctx)
			if err != nil {
				return err
			}
			bad, err := svc.Ledger.VerifyAll(ctx)
			if err != nil {
				return err
			}

			users := repository.NewUserRepository(e.pool)
			type change struct {
				UserID int64  `json:"user_id"`
				Before string `json:"before"`
				After  string `json:"after"`
			}
			changes := make([]change, 0, len(bad))
			var lines []string
			for _, v := range bad {
				before, after, err := users.RebuildBalance(ctx, v.UserID, apply)
				if err != nil {
					return fmt.Errorf("user %d: %w", v.UserID, err)
				}
				changes = append(changes, change{UserID: v.UserID, Before: before.String(), After: after.String()})
				lines = append(lines, fmt.Sprintf("user %d %s -> %s", v.UserID, before, after))
			}
			if !apply && len(bad) > 0 {
				lines = append(lines, "dry run, rerun with --apply to write")
			}
			if len(bad) == 0 {
				lines = append(lines, "nothing to rebuild")
			}
			return e.print(cmd, changes, strings.Join(lines, "\n"))
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "write the rebuilt balances")
	return cmd
}

func reconcileCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-pending",
		Short: "Ask providers about old pending transactions and expire abandoned deposits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svc.Poller.Tick(cmd.Context())
			if err != nil {
				return err
			}
			return e.print(cmd, stats, fmt.Sprintf("checked=%d settled=%d expired=%d failures=%d",
				stats.Checked, stats.Settled, stats.Expired, stats.Failures))
		},
	}
}

func settleCmd(e *env) *cobra.Command {
	var adminID int64
	cmd := &cobra.Command{
		Use:   "settle <transaction-id> approve|reject",
		Short: "Settle a pending transaction by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxnID(args[0])
			if err != nil {
				return err
			}
			var approve bool
			switch args[1] {
			case "approve":
				approve = true
			case "reject":
			default:
				return fmt.Errorf("decision must be approve or reject, got %q", args[1])
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := svc.Reconciler.SettleManually(cmd.Context(), id, approve, adminID)
			if err != nil {
				return err
			}
			return e.print(cmd, map[string]any{"transaction_id": id, "outcome": outcome}, fmt.Sprintf("%s %s", id, outcome))
		},
	}
	cmd.Flags().Int64Var(&adminID, "admin", 0, "operator user id recorded in the audit log")
	return cmd
}

func commissionsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commissions",
		Short: "Referral commission maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "replay <transaction-id>",
		Short: "Pay any commission levels missing for an approved deposit or purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxnID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			paid, err := svc.Commissions.Replay(cmd.Context(), id)
			if err != nil {
				return err
			}
			lines := []string{fmt.Sprintf("%d level(s) paid", len(paid))}
			for _, p := range paid {
				lines = append(lines, fmt.Sprintf("level %d user %d %s (%s%%)", p.Level, p.UserID, p.Amount, p.Rate))
			}
			return e.print(cmd, paid, strings.Join(lines, "\n"))
		},
	})
	return cmd
}

func userCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage ledger accounts",
	}

	var (
		username      string
		referrer      int64
		affiliateOnly bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			u := &domain.User{Username: username, AffiliateOnly: affiliateOnly}
			if referrer != 0 {
				u.ReferredBy = &referrer
			}
			if err := repository.NewUserRepository(pool).Create(cmd.Context(), u); err != nil {
				return err
			}
			return e.print(cmd, u, fmt.Sprintf("created user %d", u.ID))
		},
	}
	add.Flags().StringVar(&username, "username", "", "display name")
	add.Flags().Int64Var(&referrer, "referrer", 0, "referring user id")
	add.Flags().BoolVar(&affiliateOnly, "affiliate-only", false, "account earns no commissions")

	refer := &cobra.Command{
		Use:   "refer <user-id> <referrer-id>",
		Short: "Attach an existing account to a referrer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			referrerID, err := parseUserID(args[1])
			if err != nil {
				return err
			}
			pool, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			if err := repository.NewReferralRepository(pool).SetReferrer(cmd.Context(), userID, referrerID); err != nil {
				return err
			}
			return e.print(cmd, map[string]int64{"user_id": userID, "referrer_id": referrerID},
				fmt.Sprintf("user %d now referred by %d", userID, referrerID))
		},
	}

	cmd.AddCommand(add, refer)
	return cmd
}

func referralsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "referrals <user-id>",
		Short: "Show a user's direct referrals and commission earnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			pool, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			repo := repository.NewReferralRepository(pool)
			stats, err := repo.Stats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			downline, err := repo.Downline(cmd.Context(), userID)
			if err != nil {
				return err
			}
			lines := []string{fmt.Sprintf("%d direct referral(s), %s earned in total", stats.Direct, stats.TotalEarned)}
			for _, r := range downline {
				lines = append(lines, fmt.Sprintf("  user %d %q earned %s", r.UserID, r.Username, r.Earned))
			}
			return e.print(cmd, map[string]any{"stats": stats, "downline": downline}, strings.Join(lines, "\n"))
		},
	}
}

func credentialsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <key> <value>",
		Short: "Store one provider credential",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			if err := repository.NewCredentialRepository(pool).Set(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			return e.print(cmd, map[string]string{"provider": args[0], "key": args[1]}, fmt.Sprintf("stored %s/%s", args[0], args[1]))
		},
	})
	return cmd
}

func auditCmd(e *env) *cobra.Command {
	var f repository.AuditFilter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit log rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			logs, err := repository.NewAuditRepository(pool).List(cmd.Context(), f)
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(logs))
			for _, l := range logs {
				lines = append(lines, fmt.Sprintf("%s user=%d %s/%s %v", l.CreatedAt.Format("2006-01-02 15:04:05"), l.UserID, l.Category, l.Action, l.Details))
			}
			return e.print(cmd, logs, strings.Join(lines, "\n"))
		},
	}
	cmd.Flags().Int64Var(&f.UserID, "user", 0, "filter by user id")
	cmd.Flags().StringVar(&f.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&f.Action, "action", "", "filter by action")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func tokenCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			token, err := service.GenerateJWT(userID)
			if err != nil {
				return err
			}
			return e.print(cmd, map[string]string{"token": token}, token)
		},
	}
}

func statsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise balances and transaction volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			s, err := repository.NewStatsRepository(pool).Platform(cmd.Context())
			if err != nil {
				return err
			}
			lines := []string{
				fmt.Sprintf("users=%d balance=%s commission_paid=%s", s.TotalUsers, s.TotalBalance, s.CommissionPaid),
			}
			for kind, v := range s.Pending {
				lines = append(lines, fmt.Sprintf("pending %s: %d (%s)", kind, v.Count, v.Amount))
			}
			if s.OldestPending != nil {
				lines = append(lines, "oldest pending since "+s.OldestPending.Format("2006-01-02 15:04:05"))
			}
			return e.print(cmd, s, strings.Join(lines, "\n"))
		},
	}
}
