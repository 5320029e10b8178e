package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"remote-projects/pkg/config"
	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
	"remote-projects/pkg/servers"
	"remote-projects/pkg/workspace"
)

var (
	flagConfig      string
	flagServers     string
	flagOpener      string
	flagPrintConfig bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "Path to YAML config (defaults to XDG paths if empty)")
	flag.StringVar(&flagServers, "servers", "", "Path to the servers file (.yaml or .toml); overrides servers_file")
	flag.StringVar(&flagOpener, "opener", "", "Workspace opener: auto|tmux|exec; overrides opener")
	flag.BoolVar(&flagPrintConfig, "print-config-path", false, "Print resolved config and servers paths and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "remote-projects\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options]\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] list\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] add <ssh command...>\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] remove <index>\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] nickname <index> [name]\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] project <add|remove> <index> <path...>\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] connect <index>\n")
		fmt.Fprintf(os.Stderr, "  remote-projects [options] open <index> <path...>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  remote-projects
  remote-projects add ssh alice@example.com -p 2222
  remote-projects nickname 0 web
  remote-projects open 0 /srv/app
`)
	}
}

func main() {
	flag.Parse()
	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "remote-projects: %v\n", err)
		os.Exit(exitCodeFromErr(err))
	}
}

func run(args []string) error {
	cfg, cfgPath, err := config.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagServers != "" {
		cfg.ServersFile = flagServers
	}
	if flagOpener != "" {
		cfg.Opener = flagOpener
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	serversPath, err := cfg.ServersPath()
	if err != nil {
		return err
	}

	if flagPrintConfig {
		if cfgPath == "" {
			fmt.Println("config: (defaults; no file found)")
			for _, p := range config.ConfigPathCandidates(flagConfig) {
				fmt.Printf("  candidate: %s\n", p)
			}
		} else {
			fmt.Printf("config: %s\n", cfgPath)
		}
		fmt.Printf("servers: %s\n", serversPath)
		return nil
	}

	logger, closer, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := registry.OpenStore(serversPath)
	if err != nil {
		return err
	}
	logger.Debug("starting", "config", cfgPath, "servers", store.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:    cfg,
		store:  store,
		logger: logger,
		out:    os.Stdout,
		connector: &remote.SSHConnector{
			Timeout:    cfg.ConnectTimeout(),
			KnownHosts: cfg.KnownHostsPaths(),
			Logger:     logger,
		},
		prompter: newTerminalPrompter(os.Stdin, os.Stderr),
	}
	if len(args) > 0 {
		return a.runSubcommand(ctx, args)
	}
	return a.runTUI(ctx)
}

type app struct {
	cfg       *config.Config
	store     *registry.Store
	logger    *log.Logger
	out       io.Writer
	connector remote.Connector
	prompter  remote.PromptSink
}

func (a *app) runTUI(ctx context.Context) error {
	opener, err := workspace.New(a.cfg.Opener, a.logger)
	if err != nil {
		return err
	}
	pool := remote.NewPool()
	defer func() {
		if err := pool.CloseAll(); err != nil {
			a.logger.Warn("closing sessions", "err", err)
		}
	}()

	m := servers.New(servers.Options{
		Store:               a.store,
		Connector:           a.connector,
		Opener:              opener,
		Pool:                pool,
		Logger:              a.logger,
		DefaultUploadPolicy: registry.UploadPolicy(strings.ToLower(strings.TrimSpace(a.cfg.DefaultUploadPolicy))),
		Context:             ctx,
		Theme:               servers.LoadTheme(a.cfg.Theme),
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if fm, ok := final.(servers.Model); ok && !fm.Dismissed() {
		return nil
	}

	// The exec opener runs ssh only once the TUI has released the terminal.
	if eo, ok := opener.(*workspace.ExecOpener); ok {
		return eo.RunPending()
	}
	return nil
}

func exitCodeFromErr(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if status, ok := ee.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	var pe *remote.ParseError
	if errors.As(err, &pe) || errors.Is(err, errUsage) {
		return 2
	}
	return 1
}
