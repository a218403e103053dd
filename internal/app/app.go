// Package app wires the curator subcommands: discovery, evaluation,
// review, ingestion, and the admin API.
package app

import (
	"fmt"
	"os"
)

// Run dispatches a subcommand and returns its exit code: 0 on success,
// 1 on runtime failure, 2 on usage errors.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "health":
		return runHealth(rest)
	case "discover":
		return runDiscover(rest)
	case "evaluate":
		return runEvaluate(rest)
	case "review":
		return runReview(rest)
	case "promote":
		return runPromote(rest)
	case "coordinate":
		return runCoordinate(rest)
	case "work":
		return runWork(rest)
	case "budget":
		return runBudget(rest)
	case "serve":
		return runServe(rest)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: curator <command> [flags]

Commands:
  health      Check database connectivity
  discover    Find candidate sources via domain mapping or keyword search
  evaluate    Run pending metadata and content evaluations
  review      Approve or reject a discovery
  promote     Promote approved discoveries into the catalog
  coordinate  Run one ingestion coordinator pass
  work        Claim and process queued fetch jobs
  budget      Show usage and budget status
  serve       Start the admin API server

Run "curator <command> -h" for command flags.
`)
}
