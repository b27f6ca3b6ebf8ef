// Command lockstep-top is a terminal dashboard for a running lockstep
// server. It polls the session and drives the control API from the keyboard.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zsiec/lockstep/pkg/version"
)

func main() {
	var (
		addr        string
		interval    time.Duration
		timeout     time.Duration
		useHTTP3    bool
		insecure    bool
		showVersion bool
	)

	flag.StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the lockstep server")
	flag.DurationVar(&interval, "interval", 250*time.Millisecond, "Session poll interval")
	flag.DurationVar(&timeout, "timeout", 2*time.Second, "Per-request timeout")
	flag.BoolVar(&useHTTP3, "h3", false, "Use HTTP/3 (addr must be https)")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	client := newAPIClient(addr, useHTTP3, insecure, timeout)
	p := tea.NewProgram(newModel(client, interval, timeout), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		os.Exit(1)
	}
}
