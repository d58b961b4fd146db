package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/opsgate/opsgate/internal/buildinfo"
)

const usageText = `opsgate is the CLI for opsgated.

Usage:
  opsgate --version
  opsgate [--socket PATH] [--json] [--timeout DURATION] pending
  opsgate [--socket PATH] [--json] [--timeout DURATION] show <change_id>
  opsgate [--socket PATH] [--json] [--timeout DURATION] events <change_id>
  opsgate [--socket PATH] [--json] [--timeout DURATION] approve <change_id> [--force]
  opsgate [--socket PATH] [--json] [--timeout DURATION] reject <change_id>
  opsgate [--socket PATH] [--json] [--timeout DURATION] services [--project-dir <dir>]
  opsgate [--socket PATH] [--json] [--timeout DURATION] logs (--container <name> | --service <name>) [--tail <n>] [--project-dir <dir>]
  opsgate [--socket PATH] [--json] [--timeout DURATION] cat <path>
  opsgate [--socket PATH] [--json] [--timeout DURATION] crontab <owner>

Global Flags:
  --socket PATH   Path to opsgated socket (default /run/opsgate/opsgated.sock)
  --json          Output json
  --timeout       Request timeout (e.g. 30s, 2m)
`

const defaultRequestTimeout = 5 * time.Minute

type globalOptions struct {
	socketPath  string
	jsonOutput  bool
	showVersion bool
	timeout     time.Duration
}

func main() {
	opts, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(buildinfo.String())
		return
	}
	if len(args) == 0 || isHelpToken(args[0]) {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := newAPIClient(opts.socketPath, opts.timeout)
	if err := dispatch(ctx, args, client, opts.jsonOutput); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	opts := globalOptions{socketPath: defaultSocketPath}
	fs := flag.NewFlagSet("opsgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.socketPath, "socket", defaultSocketPath, "path to opsgated socket")
	fs.BoolVar(&opts.jsonOutput, "json", false, "output json")
	fs.DurationVar(&opts.timeout, "timeout", defaultRequestTimeout, "request timeout (e.g. 30s, 2m)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.socketPath == "" {
		opts.socketPath = defaultSocketPath
	}
	return opts, fs.Args(), nil
}

func dispatch(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	switch args[0] {
	case "pending":
		return runPendingCommand(ctx, args[1:], client, jsonOutput)
	case "show":
		return runShowCommand(ctx, args[1:], client, jsonOutput)
	case "events":
		return runEventsCommand(ctx, args[1:], client, jsonOutput)
	case "approve":
		return runApproveCommand(ctx, args[1:], client, jsonOutput)
	case "reject":
		return runRejectCommand(ctx, args[1:], client, jsonOutput)
	case "services":
		return runServicesCommand(ctx, args[1:], client, jsonOutput)
	case "logs":
		return runLogsCommand(ctx, args[1:], client, jsonOutput)
	case "cat":
		return runCatCommand(ctx, args[1:], client, jsonOutput)
	case "crontab":
		return runCrontabCommand(ctx, args[1:], client, jsonOutput)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stdout, usageText)
}

func isHelpToken(value string) bool {
	switch strings.TrimSpace(value) {
	case "help", "-h", "--help":
		return true
	default:
		return false
	}
}
