// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/keyward/keyward/lib/clock"
	"github.com/keyward/keyward/lib/config"
	"github.com/keyward/keyward/lib/pairing"
	"github.com/keyward/keyward/lib/ratelimit"
	"github.com/keyward/keyward/lib/secret"
	"github.com/keyward/keyward/lib/vault"
	"github.com/keyward/keyward/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "keygen":
		return runKeygen(os.Args[2:])
	case "store":
		return runStore(os.Args[2:])
	case "clear":
		return runClear(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "pair":
		return runPair(os.Args[2:])
	case "unpair":
		return runUnpair(os.Args[2:])
	case "version":
		fmt.Printf("keyward %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: keyward <subcommand> [flags]

Subcommands:
  keygen      Generate the host keypair (idempotent)
  store       Seal a credential into the vault
  clear       Remove the stored credential
  status      Show vault, pairing, and rate window state
  pair        Accept one device pairing handshake
  unpair      Remove the device pairing record
  version     Print version information

Run 'keyward <subcommand> --help' for subcommand flags.
`)
}

// commandFlags returns a flag set preloaded with the flags every
// subcommand shares.
func commandFlags(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flags.String("config", config.DefaultFilePath(), "path to the keyward config file")
	return flags, configPath
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Paths.State, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func newVault(cfg *config.Config, logger *slog.Logger) *vault.Vault {
	return vault.New(vault.Config{
		CiphertextPath: cfg.Paths.Vault,
		PublicKeyPath:  cfg.Paths.PublicKey,
		PrivateKeyPath: cfg.Paths.PrivateKey,
		Expiration:     cfg.ExpirationWindow(),
		Clock:          clock.Real(),
		Logger:         logger,
	})
}

// runKeygen ensures the host keypair exists and prints the public
// key. Rerunning against an existing keypair is a no-op.
func runKeygen(args []string) error {
	flags, configPath := commandFlags("keygen")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	publicKey, err := newVault(cfg, newLogger()).InitKeys()
	if err != nil {
		return err
	}
	fmt.Println(publicKey)
	return nil
}

// runStore seals a credential into the vault. The plaintext comes
// from stdin by default, or from a file with --from-file; it is held
// in a locked buffer and zeroed before exit.
func runStore(args []string) error {
	flags, configPath := commandFlags("store")
	fromFile := flags.String("from-file", "-", "read the credential from a file instead of stdin")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	credentialVault := newVault(cfg, logger)

	if _, err := credentialVault.InitKeys(); err != nil {
		return err
	}

	plaintext, err := secret.ReadFromPath(*fromFile)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	kind := vault.DetectKind(plaintext.Bytes())
	if err := credentialVault.Store(plaintext); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "stored %s (%d bytes), expires in %s\n",
		kind, plaintext.Len(), cfg.ExpirationWindow())
	return nil
}

func runClear(args []string) error {
	flags, configPath := commandFlags("clear")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	if err := newVault(cfg, newLogger()).Clear(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "credential cleared")
	return nil
}

// runStatus reports the observable state without touching any of it:
// no attempt is recorded and no credential is revealed.
func runStatus(args []string) error {
	flags, configPath := commandFlags("status")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()

	age, err := newVault(cfg, logger).Age()
	switch {
	case errors.Is(err, vault.ErrAbsent):
		fmt.Println("credential: none stored")
	case err != nil:
		fmt.Printf("credential: unreadable (%v)\n", err)
	case age > cfg.ExpirationWindow():
		fmt.Printf("credential: expired (stored %s ago, window %s)\n",
			age.Round(time.Second), cfg.ExpirationWindow())
	default:
		fmt.Printf("credential: fresh (stored %s ago, expires in %s)\n",
			age.Round(time.Second), (cfg.ExpirationWindow() - age).Round(time.Second))
	}

	record, err := pairing.NewRegistry(cfg.Paths.Pairing).Load()
	switch {
	case errors.Is(err, pairing.ErrNotPaired):
		fmt.Println("pairing:    none")
	case err != nil:
		fmt.Printf("pairing:    unreadable (%v)\n", err)
	default:
		fingerprint, fpErr := record.Fingerprint()
		if fpErr != nil {
			fingerprint = "invalid key"
		}
		fmt.Printf("pairing:    %s (%s), callback port %d\n",
			record.DeviceName, fingerprint, record.CallbackPort)
	}

	limiter := ratelimit.New(cfg.Paths.RateLimit, cfg.Gates.MaxAttemptsPerHour,
		cfg.LockoutDuration(), clock.Real(), logger)
	window := limiter.Status()
	if !window.Allowed {
		fmt.Printf("rate:       locked out until %s\n", window.LockoutUntil.Format(time.RFC3339))
	} else {
		fmt.Printf("rate:       %d of %d attempts remaining this hour\n",
			window.Remaining, cfg.Gates.MaxAttemptsPerHour)
	}

	fmt.Printf("strategy:   %s\n", cfg.Confirmation.Strategy)
	return nil
}

// runPair accepts exactly one device pairing handshake and records
// it. Pairing again replaces the previous device.
func runPair(args []string) error {
	flags, configPath := commandFlags("pair")
	address := flags.String("address", ":8490", "listen address for the pairing handshake")
	callbackPort := flags.Int("callback-port", 8491, "port the paired device posts approvals to")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("reading hostname: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acceptor := pairing.NewAcceptor(pairing.AcceptorConfig{
		Registry:     pairing.NewRegistry(cfg.Paths.Pairing),
		Address:      *address,
		Hostname:     hostname,
		CallbackPort: *callbackPort,
		Logger:       newLogger(),
	})

	go func() {
		<-acceptor.Ready()
		fmt.Fprintf(os.Stderr, "waiting for a device on %s (ctrl-c to abort)\n", acceptor.Addr())
	}()

	record, err := acceptor.Serve(ctx)
	if err != nil {
		return err
	}

	fingerprint, err := record.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "paired with %s\n", record.DeviceName)
	fmt.Fprintf(os.Stderr, "key fingerprint: %s\n", fingerprint)
	fmt.Fprintf(os.Stderr, "verify this fingerprint on the device before trusting approvals\n")
	return nil
}

func runUnpair(args []string) error {
	flags, configPath := commandFlags("unpair")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	if err := pairing.NewRegistry(cfg.Paths.Pairing).Clear(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "pairing removed")
	return nil
}
