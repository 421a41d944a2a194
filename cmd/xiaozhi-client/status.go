package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const statusTimeout = 3 * time.Second

var (
	addrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "Local control API address",
		Value: "127.0.0.1:8101",
	}
	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, yaml",
		Value:   "yaml",
	}
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Query a running client over its control API",
		Flags:  []cli.Flag{addrFlag, formatFlag},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, statusTimeout)
	defer cancel()

	status, err := fetchStatus(ctx, http.DefaultClient, c.String(addrFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return renderStatus(c.App.Writer, status, c.String(formatFlag.Name))
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query status: unexpected status %d", resp.StatusCode)
	}
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func renderStatus(w io.Writer, status map[string]any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(status); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format: %q (must be json or yaml)", format)
	}
}
