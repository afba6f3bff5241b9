package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cruise/internal/observability/httpserver"
)

type statusCmd struct {
	queues bool
}

func (c *statusCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a snapshot of a running daemon's projects and queues",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&c.queues, "queues", true, "also print queue contents")
	return cmd
}

func (c *statusCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	var st httpserver.StatusResponse
	if err := cl.call("GET", "/status", nil, &st); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), st, time.Now(), c.queues)
	return nil
}

func printStatus(w io.Writer, st httpserver.StatusResponse, now time.Time, queues bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tQUEUE\tSTATE\tACTIVITY\tLAST BUILD\tNEXT BUILD")
	for _, p := range st.Server.ProjectStatuses {
		last := "-"
		if lb := p.LastBuild; lb != nil {
			last = string(lb.Status)
			if lb.Label != "" {
				last += " #" + lb.Label
			}
			if !lb.EndedAt.IsZero() {
				last += " " + humanize.RelTime(lb.EndedAt, now, "ago", "from now")
			}
		}
		next := "-"
		if !p.NextBuild.IsZero() {
			next = humanize.RelTime(p.NextBuild, now, "ago", "from now")
		}
		activity := p.Activity.String()
		if p.PendingRequest {
			activity += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.Name, p.Queue, p.State, activity, last, next)
	}
	_ = tw.Flush()

	if !queues {
		return
	}
	for _, q := range st.Server.Queues.Queues {
		if q.IsEmpty {
			fmt.Fprintf(w, "\nqueue %s: empty\n", q.QueueName)
			continue
		}
		fmt.Fprintf(w, "\nqueue %s: %d item(s)\n", q.QueueName, len(q.Requests))
		for i, r := range q.Requests {
			fmt.Fprintf(w, "  %d. %s %s (%s, queued %s)\n",
				i+1, r.ProjectName, r.Activity, r.Condition, humanize.RelTime(r.EnqueuedAt, now, "ago", "from now"))
		}
	}
}

type forceCmd struct {
	source string
	params []string
}

func (c *forceCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "force <project>",
		Short: "Request a forced build through the project's latch",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&c.source, "source", "cli", "request source recorded with the build")
	cmd.Flags().StringArrayVarP(&c.params, "param", "p", nil, "build parameter as key=value (repeatable)")
	return cmd
}

func (c *forceCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	params, err := parseParams(c.params)
	if err != nil {
		return err
	}
	body := httpserver.ForceRequest{Source: c.source, Parameters: params}
	var resp httpserver.ActionResponse
	if err := cl.call("POST", "/projects/"+url.PathEscape(args[0])+"/force", body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "force build requested for %s\n", resp.Project)
	return nil
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("bad --param %q: want key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

type projectActionCmd struct {
	verb  string
	short string
}

func (c *projectActionCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   c.verb + " <project>",
		Short: c.short,
		Args:  cobra.ExactArgs(1),
	}
}

func (c *projectActionCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	var resp httpserver.ActionResponse
	if err := cl.call("POST", "/projects/"+url.PathEscape(args[0])+"/"+c.verb, nil, &resp); err != nil {
		return err
	}
	if resp.Applied {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s applied\n", resp.Project, c.verb)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to %s\n", resp.Project, c.verb)
	}
	return nil
}
