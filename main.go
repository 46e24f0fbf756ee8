package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/matt0x6f/alis-bot/internal/config"
	"github.com/matt0x6f/alis-bot/internal/logger"
	"github.com/matt0x6f/alis-bot/internal/security"
)

const defaultConfigPath = "~/.alis-bot/config.toml"

// pathList collects a repeatable -c flag
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

type options struct {
	configs        pathList
	configDir      string
	logLevel       string
	initPath       string
	setPassword    string
	deletePassword string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("alis-bot", flag.ContinueOnError)
	fs.Var(&o.configs, "c", "configuration `file` (.toml, .yaml or .yml); may be repeated")
	fs.StringVar(&o.configDir, "d", "", "load every configuration file in `dir`")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the file)")
	fs.StringVar(&o.initPath, "init", "", "write an example configuration to `file` and exit")
	fs.StringVar(&o.setPassword, "set-password", "", "read a server password for `network` from stdin, store it in the keychain and exit")
	fs.StringVar(&o.deletePassword, "delete-password", "", "remove the keychain password of `network` and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if len(o.configs) > 0 && o.configDir != "" {
		return o, errors.New("-c and -d cannot be used together")
	}
	return o, nil
}

func (o options) configPaths() ([]string, error) {
	switch {
	case o.configDir != "":
		return config.Discover(o.configDir)
	case len(o.configs) > 0:
		return o.configs, nil
	default:
		return []string{defaultConfigPath}, nil
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Log.Error().Err(err).Msg("alis-bot failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	keychain := security.NewKeychain()
	switch {
	case opts.initPath != "":
		if err := config.WriteExample(opts.initPath); err != nil {
			return err
		}
		fmt.Printf("Wrote example configuration to %s\n", opts.initPath)
		return nil
	case opts.setPassword != "":
		password, err := readPassword(os.Stdin)
		if err != nil {
			return err
		}
		return keychain.StorePassword(opts.setPassword, password)
	case opts.deletePassword != "":
		return keychain.DeletePassword(opts.deletePassword)
	}

	paths, err := opts.configPaths()
	if err != nil {
		return err
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Bot.LogLevel = opts.logLevel
	}
	level, err := logger.ParseLevel(cfg.Bot.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	app, err := NewApp(cfg, keychain)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.startup(ctx); err != nil {
		app.shutdown()
		return err
	}

	// Flows end on a signal or when every network gave up
	done := make(chan struct{})
	go func() {
		app.wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		logger.Log.Info().Msg("Received signal, initiating shutdown")
	case <-done:
		logger.Log.Warn().Msg("No network left running")
	}
	app.shutdown()
	return nil
}

// readPassword reads one line from r
func readPassword(r *os.File) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
