package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"petfarm/internal/auth"
	"petfarm/internal/catalog"
	cl "petfarm/internal/cli"
	"petfarm/internal/config"
	"petfarm/internal/game"
	"petfarm/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "pf",
		Short:        "Pet farm CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase, cfg.IdentitySecret),
		newLogoutCmd(),
		newStateCmd(&apiBase),
		newCatalogCmd(&apiBase),
		newFeedCmd(&apiBase),
		newBreedCmd(&apiBase),
		newSelectCmd(&apiBase),
		newEquipCmd(&apiBase),
		newUnequipCmd(&apiBase),
		newConvertCmd(&apiBase),
		newMarketCmd(&apiBase),
		newAnomaliesCmd(&apiBase),
		newWatchCmd(&apiBase),
		newSyncCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newLoginCmd(apiBase *string, secret string) *cobra.Command {
	var userID, name, token string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an identity token for this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if strings.TrimSpace(token) == "" {
				if strings.TrimSpace(secret) == "" {
					return errors.New("pass --token or set PF_IDENTITY_SECRET to mint one")
				}
				if strings.TrimSpace(userID) == "" {
					if userID, err = promptRequired("User id"); err != nil {
						return err
					}
				}
				if strings.TrimSpace(name) == "" {
					if name, err = promptOptional("Display name (optional)"); err != nil {
						return err
					}
				}
				verifier, err := auth.NewVerifier(secret, nil)
				if err != nil {
					return err
				}
				token, err = verifier.Issue(strings.TrimSpace(userID), strings.TrimSpace(name), ttl)
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			state, err := newClient(apiBase).State(ctx, token)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken: token,
				UserID:      state.Account.ID,
				DisplayName: state.Account.DisplayName,
			}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s.", displayName(state.Account)))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to mint a token for")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&token, "token", "", "use an existing identity token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "lifetime of a minted token")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newStateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "state",
		Aliases: []string{"dash"},
		Short:   "Show balances and pets",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			state, err := newClient(apiBase).State(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderState(state)
			return nil
		},
	}
}

func newCatalogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List species, accessories and exchange rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := newClient(apiBase).Catalog(ctx)
			if err != nil {
				return err
			}
			renderCatalog(view)
			return nil
		},
	}
}

func newFeedCmd(apiBase *string) *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "feed [pet-id]",
		Short: "Feed a pet (defaults to the selected pet)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := petFromArgsOrSelected(cmd, apiBase, args)
			if err != nil {
				return err
			}
			if times < 1 {
				times = 1
			}
			for i := 0; i < times; i++ {
				if err := runCommand(cmd, apiBase, cl.FeedCommand(petID)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&times, "times", "n", 1, "feed this many times")
	return cmd
}

func newBreedCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "breed [pet-id]",
		Short: "Start breeding a pet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := petFromArgsOrSelected(cmd, apiBase, args)
			if err != nil {
				return err
			}
			return runCommand(cmd, apiBase, cl.BreedCommand(petID))
		},
	}
}

func newSelectCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "select <pet-id>",
		Short: "Mark a pet as the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, apiBase, cl.SelectCommand(strings.TrimSpace(args[0])))
		},
	}
}

func newEquipCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "equip <pet-id> <accessory-id>",
		Short: "Put an owned accessory on a pet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, apiBase, cl.EquipCommand(strings.TrimSpace(args[0]), strings.TrimSpace(args[1])))
		},
	}
}

func newUnequipCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unequip <pet-id> [slot]",
		Short: "Take an accessory off a pet",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var slot string
			if len(args) > 1 {
				slot = strings.TrimSpace(args[1])
			} else {
				options := make([]string, 0, len(catalog.Slots))
				for _, sl := range catalog.Slots {
					options = append(options, string(sl))
				}
				var err error
				slot, err = promptChoice("Slot", options, options[0])
				if err != nil {
					return err
				}
			}
			return runCommand(cmd, apiBase, cl.UnequipCommand(strings.TrimSpace(args[0]), slot))
		},
	}
}

func newConvertCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "convert <from> <to> <amount>",
		Aliases: []string{"exchange"},
		Short:   "Convert between currencies at the fixed rates",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := game.ParseCurrency(args[0])
			if err != nil {
				return err
			}
			to, err := game.ParseCurrency(args[1])
			if err != nil {
				return err
			}
			amount, err := parsePositiveDecimal(args[2])
			if err != nil {
				return err
			}
			return runCommand(cmd, apiBase, cl.ConvertCommand(string(from), string(to), amount))
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Trade pets and accessories with other players",
	}
	cmd.AddCommand(
		newMarketListCmd(apiBase),
		newMarketSellCmd(apiBase),
		newMarketBuyCmd(apiBase),
		newMarketCancelCmd(apiBase),
	)
	return cmd
}

func newMarketListCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show open listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			listings, err := newClient(apiBase).Listings(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderListings(listings, sess.UserID)
			return nil
		},
	}
}

func newMarketSellCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sell <item-id> <price> [currency]",
		Short: "List a pet or accessory for sale",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := parsePositiveDecimal(args[1])
			if err != nil {
				return err
			}
			currency := string(game.Grain)
			if len(args) > 2 {
				cur, err := game.ParseCurrency(args[2])
				if err != nil {
					return err
				}
				currency = string(cur)
			}
			return runCommand(cmd, apiBase, cl.SellCommand(strings.TrimSpace(args[0]), price, currency))
		},
	}
}

func newMarketBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <listing-id> [currency]",
		Short: "Buy a listing with grain or stars",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			currency := string(game.Grain)
			if len(args) > 1 {
				cur, err := game.ParseCurrency(args[1])
				if err != nil {
					return err
				}
				currency = string(cur)
			}
			return runCommand(cmd, apiBase, cl.BuyCommand(strings.TrimSpace(args[0]), currency))
		},
	}
}

func newMarketCancelCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <listing-id>",
		Short: "Withdraw one of your listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, apiBase, cl.CancelListingCommand(strings.TrimSpace(args[0])))
		},
	}
}

func newAnomaliesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies",
		Short: "Show integrity findings recorded against your account",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := newClient(apiBase).Anomalies(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderAnomalies(entries)
			return nil
		},
	}
}

func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow live state updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			printInfo("Watching state, Ctrl+C to stop.")
			return newClient(apiBase).Watch(ctx, sess.AccessToken, func(state game.CurrentState) {
				fmt.Println()
				accent.Printf("%s\n", time.Now().Format("15:04:05"))
				renderState(state)
			})
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay commands queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			sent, rejected, remaining, err := syncq.Replay(ctx, func(ctx context.Context, q syncq.Command) syncq.Outcome {
				_, err := client.Send(ctx, sess.AccessToken, q)
				switch {
				case err == nil:
					return syncq.Sent
				case cl.IsAPIError(err):
					printWarn(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
					return syncq.Rejected
				default:
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					return syncq.Failed
				}
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", sent, rejected, remaining))
			return nil
		},
	}
}

func newAdminCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator tools (admin accounts only)",
	}
	cmd.AddCommand(
		newAdminAccountsCmd(apiBase),
		newAdminGrantCmd(apiBase),
		newAdminResetCmd(apiBase),
		newAdminLockCmd(apiBase),
		newAdminAnomaliesCmd(apiBase),
	)
	return cmd
}

func newAdminAccountsCmd(apiBase *string) *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List every stored account",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			accounts, err := newClient(apiBase).AdminAccounts(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderAccounts(accounts)
			if export != "" {
				raw, err := json.MarshalIndent(accounts, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(export, raw, 0o600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				printSuccess(fmt.Sprintf("Exported %d accounts to %s", len(accounts), export))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "also write the listing as JSON to this file")
	return cmd
}

func newAdminGrantCmd(apiBase *string) *cobra.Command {
	var grain, gromd, ton, stars string
	var accessories []string
	cmd := &cobra.Command{
		Use:   "grant <account-id>",
		Short: "Credit currency or accessories to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			currencies := map[string]any{}
			for name, raw := range map[string]string{"grain": grain, "gromd": gromd, "ton": ton, "stars": stars} {
				if strings.TrimSpace(raw) == "" {
					continue
				}
				if _, err := parsePositiveDecimal(raw); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				currencies[name] = strings.TrimSpace(raw)
			}
			if len(currencies) == 0 && len(accessories) == 0 {
				return errors.New("nothing to grant")
			}
			body := map[string]any{"currencies": currencies}
			if len(accessories) > 0 {
				body["accessories"] = accessories
			}
			return adminPost(cmd, apiBase, args[0], "grant", body, "Grant applied.")
		},
	}
	cmd.Flags().StringVar(&grain, "grain", "", "grain to credit")
	cmd.Flags().StringVar(&gromd, "gromd", "", "gromd to credit")
	cmd.Flags().StringVar(&ton, "ton", "", "ton to credit")
	cmd.Flags().StringVar(&stars, "stars", "", "stars to credit")
	cmd.Flags().StringSliceVar(&accessories, "accessory", nil, "accessory id to grant (repeatable)")
	return cmd
}

func newAdminResetCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset <account-id>",
		Short: "Replace an account with a fresh starter state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := promptChoice("Reset "+args[0]+"? This cannot be undone", []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Reset cancelled.")
					return nil
				}
			}
			return adminPost(cmd, apiBase, args[0], "reset", nil, "Account reset.")
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newAdminLockCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <account-id> [reason]",
		Short: "Lock an account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if len(args) > 1 {
				body["reason"] = strings.Join(args[1:], " ")
			}
			return adminPost(cmd, apiBase, args[0], "lock", body, "Account locked.")
		},
	}
}

func newAdminAnomaliesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies <account-id>",
		Short: "Show the anomaly log of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := newClient(apiBase).AdminAnomalies(ctx, sess.AccessToken, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderAnomalies(entries)
			return nil
		},
	}
}

func adminPost(cmd *cobra.Command, apiBase *string, accountID, action string, body map[string]any, successMessage string) error {
	sess, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	path := "/v1/admin/accounts/" + url.PathEscape(strings.TrimSpace(accountID)) + "/" + action
	resp, err := newClient(apiBase).Do(ctx, http.MethodPost, path, sess.AccessToken, body, uuid.NewString())
	if err != nil {
		return err
	}
	return renderSimpleOK(resp, successMessage)
}

// runCommand sends a game command and renders its result. When the API is
// unreachable the command is queued for `pf sync` instead.
func runCommand(cmd *cobra.Command, apiBase *string, q syncq.Command) error {
	sess, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	res, err := newClient(apiBase).Send(ctx, sess.AccessToken, q)
	if err != nil {
		return queueOnNetworkError(err, q)
	}
	return renderResult(res)
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", errors.Join(err, qerr))
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Command queued, run `pf sync` when back online.", err))
	return nil
}

func petFromArgsOrSelected(cmd *cobra.Command, apiBase *string, args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	sess, err := requireSession()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	state, err := newClient(apiBase).State(ctx, sess.AccessToken)
	if err != nil {
		return "", err
	}
	if state.SelectedPetID != "" {
		return state.SelectedPetID, nil
	}
	return promptRequired("Pet id")
}
