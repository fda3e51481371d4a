// Command opus is a terminal client for the marketplace backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"opus/internal/config"
	"opus/internal/session"
	"opus/internal/util"
	"opus/pkg/api"
	"opus/pkg/tokenstore"
)

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"health":   {"probe the backend", runHealth},
	"login":    {"sign in: login -email E -password P", runLogin},
	"register": {"create an account: register -email E -password P -name N [-phone X]", runRegister},
	"logout":   {"forget the stored token", runLogout},
	"whoami":   {"print the signed-in user", runWhoami},
	"jobs":     {"jobs nearby|show|create|cancel|mine", runJobs},
	"offers":   {"offers list|create|accept", runOffers},
	"checkout": {"pay for an accepted offer: checkout -job ID -offer ID", runCheckout},
	"wallet":   {"print wallet balance and recent transactions", runWallet},
	"payout":   {"request a payout: payout -amount CENTS [-destination D]", runPayout},
	"reviews":  {"reviews list|summary|create", runReviews},
	"chat":     {"chat list|watch|send", runChat},
	"orders":   {"print the order board built from the backend", runOrders},
	"demo":     {"explore the app state over local fixtures", runDemo},
}

// env holds what every command needs, built once from config.
type env struct {
	cfg     config.FileConfig
	client  *api.Client
	tokens  *tokenstore.Store
	session *session.Manager
	out     io.Writer
	closers []func() error
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel, nil)

	e, err := newEnv(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("failed to init client: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cmd.run(ctx, e, args)
	stop()
	e.close()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "opus %s: %v\n", name, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: opus [-config path] <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", name, commands[name].usage)
	}
}

func newEnv(cfg config.FileConfig, out io.Writer) (*env, error) {
	e := &env{cfg: cfg, out: out}
	var kv tokenstore.KV
	switch cfg.TokenStore {
	case config.TokenStoreRedis:
		redisKV := tokenstore.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		e.closers = append(e.closers, redisKV.Close)
		kv = redisKV
	case config.TokenStoreMemory:
		kv = tokenstore.NewMemoryKV()
	default:
		fileKV, err := tokenstore.NewFileKV(cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		kv = fileKV
	}
	e.tokens = tokenstore.New(kv)
	e.client = api.NewClient(api.Config{
		BaseURL: cfg.ResolvedAPIURL(),
		Timeout: cfg.RequestTimeoutDuration(),
		Tokens:  e.tokens,
	})
	e.session = session.NewManager(e.client, e.tokens)
	return e, nil
}

func (e *env) close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFlags parses args into fs, requiring the named string flags to be non-empty.
func parseFlags(fs *flag.FlagSet, args []string, required ...string) error {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range required {
		f := fs.Lookup(name)
		if f == nil || f.Value.String() == "" {
			fs.Usage()
			return fmt.Errorf("-%s is required", name)
		}
	}
	return nil
}

// subcommand splits "jobs nearby ..." style arguments.
func subcommand(args []string, names ...string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("expected one of %v", names)
	}
	for _, n := range names {
		if args[0] == n {
			return n, args[1:], nil
		}
	}
	return "", nil, fmt.Errorf("unknown subcommand %q, expected one of %v", args[0], names)
}
