package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethgrid/pester"
	"github.com/spf13/cobra"

	"cruise/internal/config"
	"cruise/internal/observability/httpserver"
)

type cli struct {
	rootCmd *cobra.Command

	configPath string
	addr       string
	token      string

	http *pester.Client
}

func newCLI() *cli {
	c := &cli{}
	c.rootCmd = &cobra.Command{
		Use:           "cruised",
		Short:         "cruised schedules and queues project integrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "./cruise.yaml", "path to config (json or yaml)")

	c.addCmd(&runCmd{})
	c.addCmd(&validateCmd{})
	c.addCmd(&queuesCmd{})
	c.addDaemonCmd(&statusCmd{})
	c.addDaemonCmd(&forceCmd{})
	c.addDaemonCmd(&projectActionCmd{verb: "abort", short: "Abort the project's running build"})
	c.addDaemonCmd(&projectActionCmd{verb: "cancel", short: "Withdraw the project's pending queue entry"})
	return c
}

func (c *cli) Exec() error {
	return c.rootCmd.Execute()
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *cli, cmd *cobra.Command, args []string) error
}

func (c *cli) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

// addDaemonCmd registers a command that talks to a running daemon's HTTP
// endpoint.
func (c *cli) addDaemonCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.Flags().StringVar(&c.addr, "addr", "", "daemon http address (default: http.addr from config)")
	cobraCmd.Flags().StringVar(&c.token, "token", "", "bearer token (default: http.token from config)")
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

func (c *cli) loadConfig() (*config.Config, error) {
	return config.NewConfigManager(c.configPath).Load()
}

// endpoint resolves the daemon address and token, falling back to the
// config file for whichever flag is unset.
func (c *cli) endpoint() (string, string) {
	addr, token := strings.TrimSpace(c.addr), strings.TrimSpace(c.token)
	if addr == "" || token == "" {
		if cfg, err := c.loadConfig(); err == nil {
			if addr == "" {
				addr = strings.TrimSpace(cfg.HTTP.Addr)
			}
			if token == "" {
				token = strings.TrimSpace(cfg.HTTP.Token)
			}
		}
	}
	if addr == "" {
		addr = httpserver.DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/"), token
}

// call sends a request to the daemon and decodes a JSON response into out.
func (c *cli) call(method, path string, body, out any) error {
	if c.http == nil {
		c.http = pester.New()
		c.http.MaxRetries = 2
		c.http.Backoff = pester.LinearBackoff
		c.http.Timeout = 10 * time.Second
	}
	base, token := c.endpoint()

	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
