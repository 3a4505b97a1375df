package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

// Options are shared by every command. Flags override the config file and the
// CREDCOORD_* environment.
type Options struct {
	ConfigFile string `short:"c" long:"config" description:"path to the YAML config file" env:"CREDCOORD_CONFIG"`
	HTTPAddr   string `long:"http" description:"HTTP server address"`
	GRPCAddr   string `long:"grpc" description:"gRPC server address"`
	DBPath     string `long:"db" description:"SQLite database path"`
	Role       string `short:"r" long:"role" description:"session role: issuer, authority, holder or verifier"`
	Wallet     string `short:"w" long:"wallet" description:"wallet address of the session"`
	Demo       bool   `long:"demo" description:"force local mode even when a ledger signer is configured"`
}

var opts Options

var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.AddCommand("serve",
		"run the coordinator",
		"Serves the HTTP and gRPC APIs and runs reconciliation in the background",
		&Serve{})
	parser.AddCommand("reconcile",
		"reconcile once and exit",
		"Compares the local credential tier with the ledger and revokes what the ledger revoked",
		&Reconcile{})
	parser.AddCommand("fingerprint",
		"print a credential fingerprint",
		"Computes the Keccak-256 fingerprint of a credential's canonical identity fields",
		&Fingerprint{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
