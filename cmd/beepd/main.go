package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/beep-chat/beep/internal/api"
	"github.com/beep-chat/beep/internal/config"
	"github.com/beep-chat/beep/internal/daemon"
	"github.com/beep-chat/beep/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (defaults to the configured default profile)")
	loginFlag := flag.String("login", "", "log in as the given username before starting; password is read from BEEP_PASSWORD")
	flag.Parse()

	if err := run(*profileFlag, *loginFlag); err != nil {
		fmt.Fprintln(os.Stderr, "beepd:", err)
		os.Exit(1)
	}
}

func run(profile, login string) error {
	cfgPath := session.ConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}

	if profile == "" {
		profile = cfg.DefaultProfile
	}
	if profile == "" {
		profile = "default"
	}
	if err := session.ValidateName(profile); err != nil {
		return err
	}

	if login != "" {
		password := os.Getenv("BEEP_PASSWORD")
		if password == "" {
			return errors.New("BEEP_PASSWORD is not set")
		}
		client := api.New(cfg.APIURL, nil)
		sess, err := client.Login(context.Background(), login, password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		cfg.Credentials = config.Credentials{
			Token:    sess.Token,
			UserID:   sess.UserID,
			Username: sess.Username,
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	if cfg.Credentials.Token == "" {
		return errors.New("no credentials: run with -login <username> first")
	}

	fx.New(daemon.Module(daemon.Params{Profile: profile, Config: cfg})).Run()
	return nil
}
