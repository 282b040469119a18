// Package cli implements the subcommand dispatch and flag parsing from
// SPEC_FULL.md §4.J.
//
// Grounded on the teacher's server/cli.go (a RunCLI(args) bool dispatch
// table consulted before flag.Parse, subcommands that exit the process
// directly via os.Exit on error) and server/main.go's flag set.
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Version is the current server version, set at build time via -ldflags.
var Version = "0.1.0-dev"

// Config holds every flag/env value the serve subcommand needs.
type Config struct {
	ControlAddr   string
	FileAddr      string
	OpsAddr       string
	DataDir       string
	CassandraHost string
}

// ParseServeFlags parses the serve subcommand's flags from args (normally
// os.Args[1:]). CASSANDRA_HOST, if set, overrides the -cassandra-host
// default the same way the teacher's flags layer env-free defaults under
// explicit CLI overrides.
func ParseServeFlags(args []string) *Config {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	cassandraDefault := os.Getenv("CASSANDRA_HOST")
	if cassandraDefault == "" {
		cassandraDefault = "127.0.0.1"
	}

	controlAddr := fs.String("control-addr", ":5050", "control-plane TCP listen address")
	fileAddr := fs.String("file-addr", ":5051", "file-plane TCP listen address")
	opsAddr := fs.String("ops-addr", ":9090", "ops HTTP listen address (empty to disable)")
	dataDir := fs.String("data-dir", "./server_data", "directory for uploaded file storage")
	cassandraHost := fs.String("cassandra-host", cassandraDefault, "comma-separated Cassandra contact points")
	fs.Parse(args)

	return &Config{
		ControlAddr:   *controlAddr,
		FileAddr:      *fileAddr,
		OpsAddr:       *opsAddr,
		DataDir:       *dataDir,
		CassandraHost: *cassandraHost,
	}
}

// RunCLI handles subcommand execution ahead of serve's flag parsing.
// Returns true if a subcommand was handled and the process should exit.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("ppgramd %s\n", Version)
		return true
	case "status":
		return cliStatus(args[1:])
	case "serve":
		return false
	default:
		return false
	}
}

// cliStatus dials the ops side-channel's /healthz over HTTP rather than
// opening a database connection directly, since dbpool.Pool.Acquire retries
// forever against an unreachable cluster and a status check must fail fast.
func cliStatus(args []string) bool {
	addr := ":9090"
	if len(args) > 0 {
		addr = args[0]
	}

	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://127.0.0.1" + addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ppgramd is not reachable at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "malformed /healthz response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Ops address: %s\n", addr)
	fmt.Printf("Version: %s\n", Version)
	return true
}
