package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pigeon-im/pigeon/internal/authclient"
	"github.com/pigeon-im/pigeon/internal/config"
	"github.com/pigeon-im/pigeon/internal/mediaclient"
	"github.com/pigeon-im/pigeon/internal/session"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.LoadOrDefaults(session.ConfigPath())
	logger := zap.NewNop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "login":
		err = cmdLogin(ctx, cfg, sessionName, logger, args[1:])
	case "register":
		err = cmdRegister(ctx, cfg, sessionName, logger, args[1:])
	case "logout":
		err = cmdLogout(sessionName)
	case "whoami":
		err = cmdWhoami(sessionName)
	case "upload":
		err = cmdUpload(ctx, cfg, logger, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pigeonctl [--session <name>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <email> <password>                Log in and store credentials")
	fmt.Fprintln(os.Stderr, "  register <email> <password> <name>      Create an account and log in")
	fmt.Fprintln(os.Stderr, "  logout                                  Discard stored credentials")
	fmt.Fprintln(os.Stderr, "  whoami                                  Show the logged-in identity")
	fmt.Fprintln(os.Stderr, "  upload <file>                           Upload a file, print its URL")
}

func credentialStore(sessionName string) (*session.Store, error) {
	if err := session.EnsureDir(sessionName); err != nil {
		return nil, err
	}
	return session.NewStore(session.CredentialsPath(sessionName))
}

func cmdLogin(ctx context.Context, cfg *config.Config, sessionName string, logger *zap.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: pigeonctl login <email> <password>")
	}
	store, err := credentialStore(sessionName)
	if err != nil {
		return err
	}
	creds, err := authclient.New(cfg.APIBaseURL, logger).Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if err := store.Save(creds); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", creds.DisplayName, creds.Email)
	return nil
}

func cmdRegister(ctx context.Context, cfg *config.Config, sessionName string, logger *zap.Logger, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: pigeonctl register <email> <password> <name>")
	}
	store, err := credentialStore(sessionName)
	if err != nil {
		return err
	}
	creds, err := authclient.New(cfg.APIBaseURL, logger).Register(ctx, args[0], args[1], args[2], "")
	if err != nil {
		return err
	}
	if err := store.Save(creds); err != nil {
		return err
	}
	fmt.Printf("registered and logged in as %s (%s)\n", creds.DisplayName, creds.Email)
	return nil
}

func cmdLogout(sessionName string) error {
	store, err := credentialStore(sessionName)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func cmdWhoami(sessionName string) error {
	store, err := credentialStore(sessionName)
	if err != nil {
		return err
	}
	creds, ok := store.Current()
	if !ok {
		fmt.Println("not logged in")
		return nil
	}
	fmt.Printf("user:  %s (%s)\n", creds.DisplayName, creds.Email)
	fmt.Printf("id:    %s\n", creds.UserID)
	if expiry, err := authclient.TokenExpiry(creds.Token); err == nil && !expiry.IsZero() {
		fmt.Printf("token: expires %s\n", expiry.Format(time.RFC3339))
	}
	return nil
}

func cmdUpload(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: pigeonctl upload <file>")
	}
	att, err := mediaclient.New(cfg.MediaUploadURL, logger).UploadFile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s (%d bytes, kind %s)\n", att.Name, att.Size, mediaclient.KindForFile(att.Name))
	fmt.Println(att.URL)
	return nil
}
