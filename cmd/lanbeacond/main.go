// Command lanbeacond is the LAN file-sharing daemon's CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/WebFirstLanguage/lanbeacon/internal/nullfm"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/control"
	"github.com/WebFirstLanguage/lanbeacon/pkg/node"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "start":
		if err := startCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		if err := statusCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("lanbeacond %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`lanbeacond v%s - LAN file-sharing daemon

Usage:
  lanbeacond <command>

Commands:
  start     Start the daemon: discovery, uploads, downloads, control API
  status    Query a running daemon's control API
  version   Show version information
  help      Show this help message
`, version)
}

func stateDir() string {
	if dir := os.Getenv("LANBEACON_STATE_DIR"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".lanbeacon"
	}
	return filepath.Join(homeDir, ".lanbeacon")
}

func startCommand() error {
	log := logrus.NewEntry(logrus.StandardLogger())

	n, err := node.New(stateDir(), nullfm.Collaborator{}, log)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	fmt.Printf("PeerID: %s\n", n.SelfID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx, constants.DefaultControlAddr); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	fmt.Printf("Control API listening on %s\n", constants.DefaultControlAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	n.Stop()
	return nil
}

func statusCommand() error {
	conn, err := net.Dial("tcp", constants.DefaultControlAddr)
	if err != nil {
		fmt.Println("Daemon is not running")
		return nil
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(&control.Request{Method: "status", ID: "cli"}); err != nil {
		return fmt.Errorf("send status request: %w", err)
	}

	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read status response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("status error: %s", resp.Error)
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
