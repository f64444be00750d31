package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/config"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = handleServe(args)
	case "models":
		err = handleModels(args, os.Stdout)
	case "token":
		err = handleToken(args, os.Stdout)
	case "init":
		err = handleInit(args, os.Stdout)
	case "version":
		handleVersion(os.Stdout)
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage(os.Stdout)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "chatwithme - multi-model chat backend %s\n\n", version)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  chatwithme serve [--config file.toml]             Run the HTTP API")
	fmt.Fprintln(w, "  chatwithme models [--config file.toml]            List models and whether they are configured")
	fmt.Fprintln(w, "  chatwithme token --user <id> [--email e] [--name n] [--ttl 720h]")
	fmt.Fprintln(w, "                                                   Issue a session token signed with AUTH_SECRET")
	fmt.Fprintln(w, "  chatwithme init [path]                            Write a sample chatwithme.toml")
	fmt.Fprintln(w, "  chatwithme version                                Show version information")
	fmt.Fprintln(w, "  chatwithme help                                   Show this help message")
}

func handleVersion(w io.Writer) {
	fmt.Fprintf(w, "chatwithme version %s\n", version)
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", os.Getenv("CHATWITHME_CONFIG"), "Path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*path)
}

func handleServe(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("serve", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.server.ListenAndServe(ctx)
}

func handleModels(args []string, w io.Writer) error {
	cfg, err := loadConfig(flag.NewFlagSet("models", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	router, err := newRouter(cfg, nil, nil, nil)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCONFIGURED\tDEFAULT")
	def := router.Default()
	for _, m := range router.Models() {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n", m.ID, m.Name, m.Configured, m.ID == def)
	}
	return tw.Flush()
}

func handleToken(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "User id (token subject)")
	email := fs.String("email", "", "User email")
	name := fs.String("name", "", "Display name")
	ttl := fs.Duration("ttl", auth.TokenLifetime, "Token lifetime")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *user == "" && *email == "" {
		return fmt.Errorf("--user or --email is required")
	}
	if err := cfg.RequireAuthSecret(); err != nil {
		return err
	}

	token, err := auth.Issue(cfg.Auth.Secret, auth.Session{UserID: *user, Name: *name, Email: *email}, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	return nil
}

func handleInit(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "chatwithme.toml"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := writeSampleConfig(path, *force); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  set auth.secret (or AUTH_SECRET) and at least one provider key")
	fmt.Fprintf(w, "  chatwithme serve --config %s\n", path)
	return nil
}
