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
	"os/user"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/keyward/keyward/lib/attest"
	"github.com/keyward/keyward/lib/audit"
	"github.com/keyward/keyward/lib/challenge"
	"github.com/keyward/keyward/lib/clock"
	"github.com/keyward/keyward/lib/config"
	"github.com/keyward/keyward/lib/gate"
	"github.com/keyward/keyward/lib/pairing"
	"github.com/keyward/keyward/lib/ratelimit"
	"github.com/keyward/keyward/lib/vault"
)

// errDenied marks a policy denial. The caller learns nothing beyond
// the exit status; the reason lives in the audit log.
var errDenied = errors.New("denied")

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errDenied) {
			fmt.Fprintln(os.Stderr, "denied")
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("keyward-askpass", pflag.ContinueOnError)
	configPath := flags.String("config", config.DefaultFilePath(), "path to the keyward config file")
	verbose := flags.Bool("verbose", false, "log at debug level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.State, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	attestor := attest.System()

	credentialVault := vault.New(vault.Config{
		CiphertextPath: cfg.Paths.Vault,
		PublicKeyPath:  cfg.Paths.PublicKey,
		PrivateKeyPath: cfg.Paths.PrivateKey,
		Expiration:     cfg.ExpirationWindow(),
		Clock:          clk,
		Logger:         logger,
	})

	request := requestContext(attestor, flags.Args())

	gates := []gate.Gate{
		gate.NewRateLimit(ratelimit.New(cfg.Paths.RateLimit, cfg.Gates.MaxAttemptsPerHour, cfg.LockoutDuration(), clk, logger)),
		gate.NewPathRestriction(cfg.Gates.AllowedPaths, attestor),
		gate.NewProcessIdentity(cfg.Gates.AllowedProcesses, attestor),
		gate.NewEnvironmentAttestation(cfg.Gates.SessionVariables, attestor),
		gate.NewCredentialFreshness(credentialVault, logger),
	}
	confirmation, err := confirmationGate(cfg, clk, logger)
	if err != nil {
		return err
	}
	if confirmation != nil {
		gates = append(gates, confirmation)
	}

	chain := gate.NewChain(gate.ChainConfig{
		Gates:    gates,
		Sink:     audit.NewSink(cfg.Paths.Audit, clk, logger),
		Attestor: attestor,
		Logger:   logger,
	})

	if result := chain.Decide(ctx, request); result.Decision != gate.Allow {
		return errDenied
	}

	plaintext, err := credentialVault.Reveal()
	if err != nil {
		if errors.Is(err, vault.ErrAbsent) || errors.Is(err, vault.ErrExpired) {
			return fmt.Errorf("no releasable credential: %w", err)
		}
		return err
	}
	defer plaintext.Close()

	// The secret goes to stdout and nowhere else.
	if _, err := os.Stdout.Write(plaintext.Bytes()); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	if _, err := os.Stdout.Write([]byte("\n")); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// requestContext assembles what sudo tells an askpass helper about
// the invocation. The environment values are caller-controlled
// claims; the gates judge them against attested facts.
func requestContext(attestor attest.Attestor, args []string) *gate.Request {
	command, _ := attestor.LookupEnv("SUDO_COMMAND")
	if command == "" && len(args) > 0 {
		// sudo passes its prompt text as the only argument.
		command = args[0]
	}

	requester, _ := attestor.LookupEnv("SUDO_USER")
	if requester == "" {
		requester, _ = attestor.LookupEnv("USER")
	}
	if requester == "" {
		if current, err := user.Current(); err == nil {
			requester = current.Username
		}
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &gate.Request{Command: command, User: requester, Host: host}
}

// confirmationGate builds the confirmation gate for the configured
// strategy. A nil gate means confirmation is off.
func confirmationGate(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (gate.Gate, error) {
	switch cfg.Confirmation.Strategy {
	case config.StrategyOff:
		return nil, nil

	case config.StrategyLocal:
		return gate.NewLocalConfirmation(logger), nil

	case config.StrategyRemote:
		registry := pairing.NewRegistry(cfg.Paths.Pairing)
		publisher, err := challenge.NewHTTPPublisher(challenge.HTTPPublisherConfig{
			GatewayURL: cfg.Challenge.GatewayURL,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		coordinator := challenge.NewCoordinator(challenge.CoordinatorConfig{
			Registry:      registry,
			Publisher:     publisher,
			TTL:           cfg.ChallengeTTL(),
			Clock:         clk,
			Logger:        logger,
			ListenAddress: cfg.Challenge.ListenAddress,
		})

		// Best effort: the device name only labels the waiting
		// indicator. An unpaired host denies inside the gate.
		device := ""
		if record, err := registry.Load(); err == nil {
			device = record.DeviceName
		}
		return gate.NewRemoteConfirmation(coordinator, device, logger), nil

	default:
		return nil, fmt.Errorf("unknown confirmation strategy %q", cfg.Confirmation.Strategy)
	}
}
