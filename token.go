package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"tasklane/api"
	"tasklane/config"
	"tasklane/domain"
)

var tokenOpts struct {
	email  string
	name   string
	ttl    time.Duration
	count  int
	prefix string
	start  int
	output string
}

var tokenCmd = &cobra.Command{
	Use:   "token [userId]",
	Short: "Issue bearer tokens for local auth mode",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens, err := issueTokens(cfg.Auth, args)
		if err != nil {
			return err
		}
		if tokenOpts.output != "" {
			if err := writeTokens(tokenOpts.output, tokens); err != nil {
				return fmt.Errorf("write tokens: %w", err)
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), tokens[0])
		return nil
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenOpts.email, "email", "", "email claim, used as the reminder address")
	f.StringVar(&tokenOpts.name, "name", "", "display name claim")
	f.DurationVar(&tokenOpts.ttl, "ttl", time.Hour, "token lifetime")
	f.IntVar(&tokenOpts.count, "count", 1, "number of tokens to generate")
	f.StringVar(&tokenOpts.prefix, "prefix", "user", "prefix for generated user IDs when count > 1")
	f.IntVar(&tokenOpts.start, "start", 1, "starting index for generated user IDs when count > 1")
	f.StringVar(&tokenOpts.output, "output", "", "file to write generated tokens as a JSON array")
}

func issueTokens(cfg config.Auth, args []string) ([]string, error) {
	if !cfg.LocalMode {
		return nil, errors.New("tokens can only be issued with LOCAL_AUTH_MODE enabled")
	}
	if tokenOpts.count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	if tokenOpts.start < 1 {
		return nil, errors.New("start index must be at least 1")
	}
	if len(args) > 0 && tokenOpts.count > 1 {
		return nil, errors.New("explicit user ID cannot be provided when generating multiple tokens")
	}

	auth := api.NewLocalAuth([]byte(cfg.LocalSecret), cfg.LocalAudience, cfg.LocalIssuer)
	tokens := make([]string, tokenOpts.count)
	for i := range tokens {
		p := domain.Principal{Email: tokenOpts.email, DisplayName: tokenOpts.name}
		switch {
		case len(args) > 0:
			p.ID = args[0]
		case tokenOpts.count == 1:
			p.ID = tokenOpts.prefix
		default:
			p.ID = fmt.Sprintf("%s-%d", tokenOpts.prefix, tokenOpts.start+i)
		}
		tok, err := auth.IssueLocalToken(p, tokenOpts.ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
