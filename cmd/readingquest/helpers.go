package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/at-ishikawa/readingquest/internal/bootstrap"
	"github.com/at-ishikawa/readingquest/internal/config"
	"github.com/at-ishikawa/readingquest/internal/identity"
)

type OutputFlag string

const (
	OutputText OutputFlag = "text"
	OutputJSON OutputFlag = "json"
)

// Set implements pflag.Value.
func (o *OutputFlag) Set(v string) error {
	switch v {
	case string(OutputText):
		*o = OutputText
	case string(OutputJSON):
		*o = OutputJSON
	default:
		return fmt.Errorf("invalid value %q, valid values are %q or %q", v, OutputText, OutputJSON)
	}
	return nil
}

// String implements pflag.Value.
func (o *OutputFlag) String() string {
	if o == nil {
		return ""
	}
	return string(*o)
}

// Type implements pflag.Value.
func (o *OutputFlag) Type() string {
	return "OutputFlag"
}

var (
	_ pflag.Value = (*OutputFlag)(nil)
)

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	return loader.Load()
}

func currentUser() (string, error) {
	user, err := identity.Static(userID).UserID(nil)
	if err != nil {
		return "", fmt.Errorf("--user or READINGQUEST_USER is required: %w", err)
	}
	return user, nil
}

// withComponents builds the engine, runs fn, and waits for queued side effects before closing.
func withComponents(ctx context.Context, fn func(ctx context.Context, c *bootstrap.Components) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loadConfig() > %w", err)
	}
	c, err := bootstrap.Build(ctx, cfg, bootstrap.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("bootstrap.Build() > %w", err)
	}
	c.Tasks.Start(ctx)
	defer func() {
		err = errors.Join(err, c.Tasks.Stop(context.WithoutCancel(ctx)), c.Close())
	}()

	return fn(ctx, c)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoder.Encode > %w", err)
	}
	return nil
}

func parseSegment(arg string) (int, error) {
	segment, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid segment %q: %w", arg, err)
	}
	return segment, nil
}
