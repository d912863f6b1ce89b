// Command terminal simulates an offline payment terminal: it taps a set of generated chip
// cards against the local risk rules and, when asked, flushes the approvals to an acquirer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/internal/acquirerclient"
	"github.com/jonanatree/offlinepay/internal/cardgen"
	"github.com/jonanatree/offlinepay/internal/clock"
	"github.com/jonanatree/offlinepay/internal/expiry"
	"github.com/jonanatree/offlinepay/models"
	"github.com/jonanatree/offlinepay/terminal"
)

var (
	flagTerminal  = flag.String("terminal", "T-0001", "terminal id")
	flagLedger    = flag.String("ledger", "terminal.db", "SQLite ledger path")
	flagAcquirer  = flag.String("acquirer", "http://127.0.0.1:9090", "acquirer base URL")
	flagBIN       = flag.String("bin", "421234", "BIN prefix for generated cards")
	flagCards     = flag.Int("cards", 3, "number of cards to generate")
	flagTaps      = flag.Int("taps", 2, "payments per card")
	flagAmount    = flag.Int64("amount", 250, "amount per payment in minor units")
	flagFloor     = flag.Int64("floor", 5000, "floor limit in minor units")
	flagVelocity  = flag.Int("velocity", 3, "approvals per card per window")
	flagWindow    = flag.Duration("window", models.DefaultVelocityWindow, "velocity window")
	flagTTL       = flag.Duration("ttl", 72*time.Hour, "max age of an unsynced approval")
	flagOffline   = flag.Int("offline-limit", 5, "offline approvals a card allows before going online")
	flagBlacklist = flag.String("blacklist", "", "comma separated card numbers to refuse")
	flagContext   = flag.String("context", "", "free text stored with each payment")
	flagSync      = flag.Bool("sync", false, "flush approved payments to the acquirer after tapping")
)

func main() {
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr))
	ctx := context.Background()

	var blacklist []string
	if *flagBlacklist != "" {
		for _, pan := range strings.Split(*flagBlacklist, ",") {
			pan = cardgen.NormalizePAN(pan)
			if err := cardgen.ValidatePAN(pan); err != nil {
				fail("blacklist entry %s: %v", cardgen.MaskPAN(pan), err)
			}
			blacklist = append(blacklist, pan)
		}
	}
	cfg := models.NewTerminalConfig(*flagTerminal, *flagFloor, *flagVelocity, *flagWindow, *flagTTL, blacklist)

	ledger := must1(terminal.OpenSQLite(ctx, *flagLedger))
	defer ledger.Close()

	clk := clock.NewSystem()
	authorizer := must1(terminal.NewAuthorizer(logger, cfg, ledger, clk))

	expYYMM := expiry.YYMM(clk.Now(), 3, time.UTC)
	for i := 0; i < *flagCards; i++ {
		pan := must1(cardgen.GeneratePAN(*flagBIN, 16))
		if err := cardgen.ValidatePAN(pan); err != nil {
			fail("generated pan: %v", err)
		}
		card := models.NewChipCard(pan, expYYMM, *flagOffline)
		for j := 0; j < *flagTaps; j++ {
			txn := must1(authorizer.Authorize(ctx, card, *flagAmount, *flagContext))
			line := fmt.Sprintf("%s %s %d %s", txn.ID, cardgen.MaskPAN(txn.CardNumber), txn.Amount, txn.Status)
			if txn.DeclineReason != models.DeclineReasonNone {
				line += " (" + string(txn.DeclineReason) + ")"
			}
			fmt.Println(line)
		}
	}

	pending := must1(authorizer.Pending(ctx))
	fmt.Printf("pending: %d\n", len(pending))
	if !*flagSync {
		return
	}

	syncer := terminal.NewSyncer(logger, cfg, ledger, clk)
	client := acquirerclient.New(*flagAcquirer, cfg.TerminalID, nil)
	result := must1(syncer.Sync(ctx, pending, client))
	fmt.Printf("settled: %d duplicates: %d rejected: %d expired: %d\n",
		result.Settled, result.Duplicates, result.Rejected, result.Expired)
}

func must1[T any](v T, err error) T {
	if err != nil {
		fail("%v", err)
	}
	return v
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
