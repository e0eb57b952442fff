package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/amirasaad/coopcredit/infra/parameters"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

const usage = `Usage: cli <command> [arguments]
Commands:
  fees [file]                         print the fee schedule
  quote <amount> <FC|USD> [file]      compute the fee of a withdrawal
  check <file>                        validate a parameter document
Without a file the embedded defaults are used.`

var (
	title = color.New(color.FgCyan, color.Bold)
	good  = color.New(color.FgGreen)
	bad   = color.New(color.FgRed, color.Bold)
	muted = color.New(color.FgHiBlack)
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		bad.Fprintln(os.Stderr, "error:", err) //nolint: errcheck
		os.Exit(1)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(w, usage) //nolint: errcheck
		return nil
	}
	switch args[0] {
	case "fees":
		snap, err := loadSnapshot(optional(args, 1))
		if err != nil {
			return err
		}
		printFees(w, snap)
		return nil
	case "quote":
		if len(args) < 3 {
			return fmt.Errorf("usage: quote <amount> <FC|USD> [file]")
		}
		snap, err := loadSnapshot(optional(args, 3))
		if err != nil {
			return err
		}
		return printQuote(w, snap, args[1], args[2])
	case "check":
		if len(args) < 2 {
			return fmt.Errorf("usage: check <file>")
		}
		snap, err := loadSnapshot(args[1])
		if err != nil {
			return err
		}
		good.Fprintf(w, "✅ %s is valid (hash %s)\n", args[1], snap.Document.Hash()[:12]) //nolint: errcheck
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func optional(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func loadSnapshot(path string) (*policy.Snapshot, error) {
	var source parameters.Source = parameters.DefaultSource{}
	if path != "" {
		source = parameters.FileSource{Path: path}
	}
	doc, err := source.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return policy.NewSnapshot(doc, time.UTC)
}

func printFees(w io.Writer, snap *policy.Snapshot) {
	for _, code := range money.Codes() {
		tiers, err := snap.FeeTiers.For(code)
		if err != nil {
			continue
		}
		title.Fprintf(w, "Frais de retrait %s\n", code) //nolint: errcheck
		lower := "0"
		for i, t := range tiers {
			fmt.Fprintf(w, "  %d. %12s .. %-12s %s%%\n", //nolint: errcheck
				i+1, lower, t.Max.Decimal().String(), t.Rate.Mul(decimal.NewFromInt(100)).String())
			lower = t.Max.Decimal().String()
		}
		minW, _ := snap.MinWithdrawal.For(code)
		maxW, _ := snap.MaxAmountPerWithdrawal.For(code)
		muted.Fprintf(w, "  retrait entre %s et %s\n", minW, maxW) //nolint: errcheck
	}
}

func printQuote(w io.Writer, snap *policy.Snapshot, rawAmount, rawCode string) error {
	code, err := money.ParseCode(strings.ToUpper(rawCode))
	if err != nil {
		return err
	}
	d, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}
	amount, err := money.New(d, code)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	fee, err := policy.ComputeFee(amount, snap)
	if err != nil {
		return err
	}
	net, err := amount.Add(fee.Amount)
	if err != nil {
		return err
	}
	title.Fprintf(w, "Simulation %s\n", amount)                                 //nolint: errcheck
	fmt.Fprintf(w, "  palier   %d (taux %s)\n", fee.TierIndex+1, fee.Tier.Rate) //nolint: errcheck
	fmt.Fprintf(w, "  frais    %s\n", fee.Amount)                               //nolint: errcheck
	fmt.Fprintf(w, "  débit    %s\n", net)                                      //nolint: errcheck

	minW, _ := snap.MinWithdrawal.For(code)
	maxW, _ := snap.MaxAmountPerWithdrawal.For(code)
	if amount.Amount() < minW.Amount() || amount.Amount() > maxW.Amount() {
		bad.Fprintf(w, "  ⛔ hors limites (%s .. %s)\n", minW, maxW) //nolint: errcheck
	} else {
		good.Fprintln(w, "  ✅ dans les limites") //nolint: errcheck
	}
	return nil
}
