package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cruise/internal/app"
	"cruise/internal/config"
)

type validateCmd struct{}

func (c *validateCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse the config and build every project's trigger tree",
		Args:  cobra.NoArgs,
	}
}

func (c *validateCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	cfg, err := cl.loadConfig()
	if err != nil {
		return err
	}
	if err := app.Validate(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d projects, %d queues)\n",
		cl.configPath, len(cfg.Projects), len(queueLayout(cfg)))
	return nil
}

type queuesCmd struct{}

func (c *queuesCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Print the integration queues the config defines and who shares them",
		Args:  cobra.NoArgs,
	}
}

func (c *queuesCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	cfg, err := cl.loadConfig()
	if err != nil {
		return err
	}
	printQueues(cmd.OutOrStdout(), cfg)
	return nil
}

type queueEntry struct {
	Name       string
	Duplicates string
	Projects   []config.ProjectConfig
}

// queueLayout groups projects by effective queue, in ordinal name order.
func queueLayout(cfg *config.Config) []queueEntry {
	byName := map[string]*queueEntry{}
	for _, p := range cfg.Projects {
		name := p.QueueName()
		e := byName[name]
		if e == nil {
			qc := cfg.FindQueueConfiguration(name)
			dup := qc.Duplicates
			if dup == "" {
				dup = "UseFirst"
			}
			e = &queueEntry{Name: name, Duplicates: dup}
			byName[name] = e
		}
		e.Projects = append(e.Projects, p)
	}
	out := make([]queueEntry, 0, len(byName))
	for _, e := range byName {
		sort.SliceStable(e.Projects, func(i, j int) bool {
			return e.Projects[i].QueuePriority < e.Projects[j].QueuePriority
		})
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func printQueues(w io.Writer, cfg *config.Config) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tDUPLICATES\tPROJECTS")
	for _, e := range queueLayout(cfg) {
		names := make([]string, 0, len(e.Projects))
		for _, p := range e.Projects {
			names = append(names, fmt.Sprintf("%s(%d)", p.Name, p.QueuePriority))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Duplicates, strings.Join(names, ", "))
	}
	_ = tw.Flush()
}
