// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wingedpig/ccbot/internal/app"
	"github.com/wingedpig/ccbot/internal/config"
	"github.com/wingedpig/ccbot/internal/hook"
	"github.com/wingedpig/ccbot/internal/sessionmap"
	"github.com/wingedpig/ccbot/internal/skills"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hook":
			if err := runHook(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		case "sync":
			if err := runSync(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		case "run":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("ccbot %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.NewLoader().Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	log.Printf("ccbot %s bridging tmux session %q", version, cfg.TmuxSession)
	if err := application.Run(ctx); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
}

// runHook handles the "ccbot hook" subcommand: consume one SessionStart
// payload from stdin and write one session-map entry, or install the hook
// declaration with --install.
func runHook(args []string) error {
	flags := flag.NewFlagSet("hook", flag.ExitOnError)
	install := flags.Bool("install", false, "Register the hook in the agent's settings file")
	flags.Parse(args)

	if *install {
		path, err := hook.DefaultSettingsPath()
		if err != nil {
			return err
		}
		if err := hook.Install(path); err != nil {
			return err
		}
		fmt.Printf("Hook registered in %s\n", path)
		return nil
	}

	cfg, err := config.NewLoader().Load()
	if err != nil {
		return err
	}
	store := sessionmap.NewStore(filepath.Join(cfg.ConfigDir, sessionmap.FileName))
	return hook.Run(context.Background(), os.Stdin, store, hook.ResolvePaneFromEnv)
}

// runSync handles "ccbot sync <project_dir>": scan the project's command
// definitions and write the skill alias map.
func runSync(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ccbot sync <project_dir>")
	}
	projectDir := args[0]

	m, err := skills.Sync(projectDir)
	if err != nil {
		return err
	}

	cfg, err := config.NewLoader().Load()
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.ConfigDir, skills.FileName)
	if err := skills.Save(path, m); err != nil {
		return err
	}
	fmt.Printf("Wrote %d skills to %s\n", len(m), path)
	for _, name := range m.Names() {
		fmt.Printf("  /%s -> %s\n", name, m[name].Command)
	}
	return nil
}
