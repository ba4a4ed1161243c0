/*
main.go - Application entry point

PURPOSE:
  Command-line front end for the cashbook. "serve" runs the HTTP API; the
  other commands operate on the configured store directly, which is handy
  from cron or for a quick look at the books.

COMMANDS:
  serve        Run the HTTP server (optionally with automatic day closing)
  close-day    Close a day's unregistered movements
  pending      List dates that still need closing
  summary      Daily or range summary
  balance      Running balance over every movement
  categories   List categories

CONFIGURATION:
  See config/config.go. --config points at the directory holding
  cashbook.yaml and .env; CASHBOOK_* environment variables win.

EXAMPLES:
  cashbook serve --port 3000
  cashbook close-day --date 2025-01-10
  cashbook summary --from 2025-01-01 --to 2025-01-31
*/
package main

import (
	"github.com/alecthomas/kong"
)

var (
	// Version is set via ldflags when building.
	Version = ""

	cli struct {
		Globals

		Version kong.VersionFlag `help:"Show version information"`

		Serve      ServeCmd      `cmd:"" help:"Run the HTTP API server."`
		CloseDay   CloseDayCmd   `cmd:"" help:"Close a day's unregistered movements."`
		Pending    PendingCmd    `cmd:"" help:"List dates with unregistered movements."`
		Summary    SummaryCmd    `cmd:"" help:"Show a daily or range summary."`
		Balance    BalanceCmd    `cmd:"" help:"Show the running balance."`
		Categories CategoriesCmd `cmd:"" help:"List categories."`
	}
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Directory containing cashbook.yaml and .env." default:"." type:"path"`
	LogLevel string `help:"Override log.level (debug, info, warn, error)." name:"log-level"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": buildVersion(),
		},
		kong.Name("cashbook"),
		kong.Description("Cash ledger and daily cash closing service."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func buildVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
