package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cypher/config"
	"cypher/dashboard"
	"cypher/mcp"
	"cypher/ui"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

const usage = `Usage: cypher [command]

Commands:
  run                 Run the agent in the terminal loop (default)
  repl                Type terminal commands yourself
  mcp                 Serve the terminal commands as MCP tools over stdio
  chat [agentA agentB] [opening...]
                      Let two agents talk to each other, saving the
                      conversation under <data_dir>/chats
  hash-token [--save] <token>
                      Print (or store in settings.toml) the dashboard
                      hash of a bearer token
  version             Print the version
`

func main() {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "run", "repl", "mcp":
		err = serve(command)
	case "chat":
		err = chatCommand(args)
	case "hash-token":
		err = hashToken(args)
	case "version", "--version":
		fmt.Printf("cypher %s (%s)\n", Version, License)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", command, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(mode string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	switch mode {
	case "repl":
		err = ui.Run(ctx, a.dispatcher)
	case "mcp":
		err = mcp.NewServer(a.registry, a.dispatcher, Version, a.logger).ServeStdio(ctx)
	default:
		err = a.runAgent(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// chatCommand takes two agent names, then an optional opening line. Given
// fewer than two arguments, the [chat] agents talk and any argument is the
// opening.
func chatCommand(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ids []string
	if len(args) >= 2 {
		ids, args = args[:2], args[2:]
	}

	a, err := setup(ctx, "chat")
	if err != nil {
		return err
	}
	defer a.Close()
	return a.runChat(ctx, ids, strings.Join(args, " "))
}

func hashToken(args []string) error {
	save := len(args) == 2 && args[0] == "--save"
	if save {
		args = args[1:]
	}
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: cypher hash-token [--save] <token>")
	}

	hash, err := dashboard.HashToken(args[0])
	if err != nil {
		return err
	}
	if !save {
		fmt.Println(hash)
		fmt.Fprintln(os.Stderr, "Set it as token_hash in the [dashboard] section of settings.toml, or rerun with --save.")
		return nil
	}

	path := os.Getenv("CYPHER_CONFIG")
	if path == "" {
		path = config.GetSettingsFilePath()
	}
	settings, err := config.LoadSettings(path)
	if err != nil {
		return err
	}
	settings.Dashboard.TokenHash = hash
	if err := config.SaveSettings(settings, path); err != nil {
		return err
	}
	fmt.Printf("Saved dashboard token hash to %s\n", path)
	return nil
}
