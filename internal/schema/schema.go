// Package schema renders the CLI command tree as a structured document
// so agents and tooling can discover lendctl's surface without parsing
// help text.
package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Aliases     []string  `json:"aliases,omitempty"`
	Flags       []Flag    `json:"flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// Describe walks from root to the command named by path (space-separated,
// empty means root) and returns its schema including visible subcommands.
func Describe(root *cobra.Command, path string) (Command, error) {
	cmd, err := locate(root, path)
	if err != nil {
		return Command{}, err
	}
	return describe(cmd), nil
}

func locate(root *cobra.Command, path string) (*cobra.Command, error) {
	cmd := root
	for _, part := range strings.Fields(strings.TrimSpace(path)) {
		next := findChild(cmd, part)
		if next == nil {
			return nil, fmt.Errorf("command not found: %s", path)
		}
		cmd = next
	}
	return cmd, nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, child := range cmd.Commands() {
		if child.Name() == name {
			return child
		}
		for _, alias := range child.Aliases {
			if alias == name {
				return child
			}
		}
	}
	return nil
}

func describe(cmd *cobra.Command) Command {
	out := Command{
		Path:    strings.TrimSpace(cmd.CommandPath()),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Aliases: cmd.Aliases,
		Flags:   describeFlags(cmd),
	}
	for _, child := range cmd.Commands() {
		if child.Hidden {
			continue
		}
		out.Subcommands = append(out.Subcommands, describe(child))
	}
	return out
}

func describeFlags(cmd *cobra.Command) []Flag {
	flags := []Flag{}
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		flags = append(flags, Flag{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  f.Annotations[cobra.BashCompOneRequiredFlag] != nil,
		})
	})
	return flags
}
