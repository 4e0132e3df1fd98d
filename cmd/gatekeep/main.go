package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/app"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("gatekeep: %v", err)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(args)
	case "mint-token":
		return mintToken(args)
	case "verify-audit":
		return verifyAudit(args)
	default:
		return fmt.Errorf("unknown command %q (want serve, mint-token or verify-audit)", cmd)
	}
}

func serve(args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file (default: $GATEKEEP_CONFIG)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run()
}

// mintToken prints a token signed by the dev identity key.
func mintToken(args []string) error {
	flags := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	identity := flags.String("identity", "", "identity (email) to put in the token")
	name := flags.String("name", "", "display name")
	role := flags.String("role", "free", "role claim (free, premium, admin)")
	ttl := flags.Duration("ttl", time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *identity == "" {
		return errors.New("--identity is required")
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.IdentityMode != "dev" {
		return fmt.Errorf("tokens can only be minted in dev identity mode, not %q", cfg.IdentityMode)
	}

	provider, err := app.InitIdentity(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	token, err := provider.Mint(*identity, *name, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// verifyAudit checks the audit hash chain and exits non-zero if it is broken.
func verifyAudit(args []string) error {
	flags := pflag.NewFlagSet("verify-audit", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	report, err := application.VerifyAudit(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("checked=%d forks=%d\n", report.Checked, report.Forks)
	if !report.Intact() {
		return fmt.Errorf("audit chain broken at entry %s", report.BrokenAt)
	}
	return nil
}
