// Package app implements the story-processor CLI commands.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "models":
		return runModels(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "work":
		return runWork(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "post-pending":
		return runPostPending(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "story-processor CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  story-processor <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health        Verify database and broker connectivity")
	fmt.Fprintln(os.Stderr, "  models        Refresh and list the classifier model list")
	fmt.Fprintln(os.Stderr, "  fetch         Run one fetch cycle for a source and queue classification jobs")
	fmt.Fprintln(os.Stderr, "  work          Consume classification jobs from the broker")
	fmt.Fprintln(os.Stderr, "  process       Fetch all configured sources and classify inline")
	fmt.Fprintln(os.Stderr, "  run-once      Alias for process")
	fmt.Fprintln(os.Stderr, "  post-pending  Retry publication for scored-but-unposted stories")
	fmt.Fprintln(os.Stderr, "  serve         Start the JSON status API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"story-processor <command> -h\" for command-specific flags.")
}
