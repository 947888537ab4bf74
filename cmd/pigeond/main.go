package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pigeon-im/pigeon/internal/config"
	"github.com/pigeon-im/pigeon/internal/daemon"
	"github.com/pigeon-im/pigeon/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg := config.LoadOrDefaults(session.ConfigPath())

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: *cfg}),
	)

	app.Run()
}
