package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	cl "petfarm/internal/cli"
	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/market"
	"petfarm/internal/session"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	for {
		fmt.Printf("%s [%s] (default %s): ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			return defaultValue, nil
		}
		for _, opt := range options {
			if text == opt {
				return text, nil
			}
		}
		printWarn("Choose one of: " + strings.Join(options, ", "))
	}
}

func parsePositiveDecimal(raw string) (string, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	if !v.IsPositive() {
		return "", errors.New("amount must be greater than zero")
	}
	return v.String(), nil
}

func displayName(acct game.Account) string {
	if strings.TrimSpace(acct.DisplayName) != "" {
		return acct.DisplayName
	}
	return acct.ID
}

func renderState(state game.CurrentState) {
	acct := state.Account
	accent.Printf("%s", displayName(acct))
	if acct.IsAdmin {
		warn.Printf("  [admin]")
	}
	fmt.Println()
	if state.Locked {
		reason := acct.Security.LockReason
		if reason == "" {
			reason = "locked"
		}
		danger.Printf("Account locked: %s\n", reason)
	}
	if state.Notice != "" {
		warn.Println(state.Notice)
	}

	fmt.Printf("  grain %s  gromd %s  ton %s  stars %s\n",
		formatAmount(acct.Currencies.Grain),
		formatAmount(acct.Currencies.Gromd),
		formatAmount(acct.Currencies.Ton),
		formatAmount(acct.Currencies.Stars),
	)

	if len(state.Inventory.Pets) == 0 {
		printInfo("No pets.")
	} else {
		fmt.Println()
		neutral.Printf("%-2s %-12s %-8s %-5s %-8s %-12s %-12s %s\n", "", "PET", "SPECIES", "LVL", "SATIETY", "RATE/INT", "NEXT FEED", "STATUS")
		for _, p := range state.Inventory.Pets {
			marker := ""
			if p.ID == state.SelectedPetID {
				marker = "*"
			}
			status := "idle"
			if p.IsBreeding() {
				status = "breeding since " + p.BreedingStartedAt.Local().Format("Jan 2 15:04")
			}
			fmt.Printf("%-2s %-12s %-8d %-5d %-8s %-12s %-12s %s\n",
				marker,
				truncate(p.ID, 12),
				p.SpeciesID,
				p.Level,
				fmt.Sprintf("%d/%d", p.Satiety, game.MaxSatiety),
				formatAmount(state.FarmRate[p.ID]),
				formatAmount(state.NextFeedCost[p.ID]),
				status,
			)
			if len(p.AccessorySlots) > 0 {
				slots := make([]string, 0, len(p.AccessorySlots))
				for slot, id := range p.AccessorySlots {
					slots = append(slots, fmt.Sprintf("%s=%s", slot, id))
				}
				sort.Strings(slots)
				fmt.Printf("   %s\n", strings.Join(slots, " "))
			}
		}
	}

	if len(state.Inventory.Accessories) > 0 {
		fmt.Println()
		neutral.Printf("%-38s %-16s %s\n", "ITEM", "ACCESSORY", "ACQUIRED")
		for _, a := range state.Inventory.Accessories {
			fmt.Printf("%-38s %-16s %s\n", a.ID, a.AccessoryID, a.AcquiredAt.Local().Format(time.DateTime))
		}
	}
}

func renderCatalog(view cl.CatalogView) {
	accent.Println("Species")
	neutral.Printf("%-4s %-16s %-10s %-10s %-10s %s\n", "ID", "NAME", "RARITY", "RATE", "FEED", "SATIETY/FEED")
	for _, s := range view.Species {
		fmt.Printf("%-4d %-16s %-10s %-10s %-10s %d\n", s.ID, truncate(s.Name, 16), s.Rarity, formatAmount(s.BaseFarmRate), formatAmount(s.FeedCost), s.SatietyPerFeed)
	}
	fmt.Println()
	accent.Println("Accessories")
	neutral.Printf("%-16s %-16s %-6s %-10s %s\n", "ID", "NAME", "SLOT", "RARITY", "BONUS")
	for _, a := range view.Accessories {
		fmt.Printf("%-16s %-16s %-6s %-10s %s\n", truncate(a.ID, 16), truncate(a.Name, 16), a.Slot, a.Rarity, formatAmount(a.FarmBonus))
	}
	fmt.Println()
	accent.Println("Exchange")
	sort.Slice(view.ExchangeRates, func(i, j int) bool {
		if view.ExchangeRates[i].From == view.ExchangeRates[j].From {
			return view.ExchangeRates[i].To < view.ExchangeRates[j].To
		}
		return view.ExchangeRates[i].From < view.ExchangeRates[j].From
	})
	for _, r := range view.ExchangeRates {
		fmt.Printf("  1 %s -> %s %s\n", r.From, r.Rate, r.To)
	}
	fmt.Println()
	neutral.Printf("catalog %s\n", truncate(view.Fingerprint, 16))
}

func renderListings(listings []market.Listing, selfID string) {
	if len(listings) == 0 {
		printInfo("No open listings.")
		return
	}
	neutral.Printf("%-38s %-10s %-16s %-12s %-10s %s\n", "LISTING", "KIND", "SELLER", "GRAIN", "STARS", "LISTED")
	for _, l := range listings {
		seller := l.SellerName
		if seller == "" {
			seller = l.SellerID
		}
		line := fmt.Sprintf("%-38s %-10s %-16s %-12s %-10s %s",
			l.ID,
			l.Item.Kind,
			truncate(seller, 16),
			formatAmount(l.AskPrice[game.Grain]),
			formatAmount(l.AskPrice[game.Stars]),
			l.ListedAt.Local().Format("Jan 2 15:04"),
		)
		if l.SellerID == selfID {
			accent.Println(line)
			continue
		}
		fmt.Println(line)
	}
}

func renderAnomalies(entries []integrity.Anomaly) {
	if len(entries) == 0 {
		printSuccess("No anomalies recorded.")
		return
	}
	for _, a := range entries {
		c := warn
		if a.Severity == integrity.High {
			c = danger
		}
		c.Printf("%-5s ", a.Severity)
		fmt.Printf("%s  %-16s %s\n", a.At.Local().Format(time.DateTime), a.Kind, a.Detail)
	}
}

func renderAccounts(accounts []session.AccountSummary) {
	if len(accounts) == 0 {
		printInfo("No accounts stored.")
		return
	}
	neutral.Printf("%-24s %-16s %-10s %-8s %-5s %s\n", "ACCOUNT", "NAME", "GRAIN", "STARS", "PETS", "STATUS")
	for _, a := range accounts {
		status := "ok"
		switch {
		case a.Corrupt:
			status = danger.Sprint("corrupt")
		case a.Locked:
			status = danger.Sprint("locked: " + a.LockReason)
		case a.Suspicious:
			status = warn.Sprint("suspicious")
		case a.Online:
			status = success.Sprint("online")
		}
		if a.Suspicious && (a.Corrupt || a.Locked) {
			status += warn.Sprint(" *")
		}
		fmt.Printf("%-24s %-16s %-10s %-8s %-5d %s\n",
			truncate(a.ID, 24),
			truncate(a.DisplayName, 16),
			formatAmount(a.Currencies.Grain),
			formatAmount(a.Currencies.Stars),
			a.Pets,
			status,
		)
	}
}

func renderResult(res cl.CommandResponse) error {
	switch res.Command {
	case "feed":
		r, err := decodeInto[game.FeedResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Fed %s for %s grain, +%s grain reward. Satiety %d/%d.", r.PetID, formatAmount(r.Cost), formatAmount(r.Reward), r.Satiety, game.MaxSatiety))
		if r.LeveledUp {
			accent.Printf("Level up! %s is now level %d.\n", r.PetID, r.Level)
		}
	case "breed":
		r, err := decodeInto[game.BreedStartResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Breeding %s, ready at %s.", r.PetID, r.ReadyAt.Local().Format(time.DateTime)))
	case "select":
		r, err := decodeInto[game.SelectResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess("Selected " + r.PetID + ".")
	case "equip", "unequip":
		r, err := decodeInto[game.EquipResult](res.Result)
		if err != nil {
			return err
		}
		if r.Equipped {
			printSuccess(fmt.Sprintf("Equipped %s on %s (%s).", r.AccessoryID, r.PetID, r.Slot))
		} else {
			printSuccess(fmt.Sprintf("Removed %s from %s (%s).", r.AccessoryID, r.PetID, r.Slot))
		}
	case "convert":
		r, err := decodeInto[game.ConvertResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Converted %s %s into %s %s.", formatAmount(r.Spent), r.From, formatAmount(r.Received), r.To))
	case "sell":
		r, err := decodeInto[market.SellResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Listed as %s for %s grain / %s stars.", r.Listing.ID, formatAmount(r.Listing.AskPrice[game.Grain]), formatAmount(r.Listing.AskPrice[game.Stars])))
	case "buy":
		r, err := decodeInto[market.BuyResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Bought %s %s for %s %s. Balance %s.", r.Kind, r.ItemID, formatAmount(r.Price), r.Currency, formatAmount(r.Balance)))
	case "cancel_listing":
		r, err := decodeInto[market.CancelResult](res.Result)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Listing %s withdrawn, %s is back in your inventory.", r.ListingID, r.ItemID))
	default:
		printSuccess(res.Command + " ok.")
	}
	return nil
}

func renderSimpleOK(raw map[string]any, successMessage string) error {
	if raw == nil {
		printSuccess(successMessage)
		return nil
	}
	if v, ok := raw["error"]; ok {
		return fmt.Errorf("%v", v)
	}
	printSuccess(successMessage)
	if balance, ok := raw["currencies"]; ok {
		c, err := decodeInto[game.Currencies](balance)
		if err != nil {
			return err
		}
		fmt.Printf("  grain %s  gromd %s  ton %s  stars %s\n", formatAmount(c.Grain), formatAmount(c.Gromd), formatAmount(c.Ton), formatAmount(c.Stars))
	}
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	var raw []byte
	switch v := in.(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(in)
		if err != nil {
			return out, err
		}
		raw = b
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func formatAmount(v decimal.Decimal) string {
	if v.IsInteger() {
		return comma(v.IntPart())
	}
	return v.StringFixed(2)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return sign + b.String()
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
