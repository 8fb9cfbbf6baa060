package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pop-os/launcher/internal/config"
)

var (
	pluginNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	pluginDescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	pluginMetaStyle = lipgloss.NewStyle().Faint(true)
	pluginFlagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// newPluginsCommand lists the plugins the registry would load, with their
// routing policy. Useful for debugging a plugin that never receives
// queries.
func newPluginsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List discovered plugins and their query policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			reg := loadRegistry(cfg, newLogger(cfg))
			plugins := reg.Plugins()
			if len(plugins) == 0 {
				fmt.Println(pluginMetaStyle.Render("no plugins found"))
				return nil
			}

			for _, desc := range plugins {
				var flags []string
				if desc.Query.Isolate != nil {
					flags = append(flags, "isolate="+desc.Query.Isolate.String())
				}
				if desc.Query.Regex != nil {
					flags = append(flags, "regex="+desc.Query.Regex.String())
				}
				if desc.Query.Persistent {
					flags = append(flags, "persistent")
				}
				if desc.Query.NoSort {
					flags = append(flags, "no_sort")
				}

				fmt.Println(pluginNameStyle.Render(desc.Name))
				if desc.Description != "" {
					fmt.Println("  " + pluginDescStyle.Render(desc.Description))
				}
				fmt.Println("  " + pluginMetaStyle.Render(desc.Exec))
				if len(flags) > 0 {
					fmt.Println("  " + pluginFlagStyle.Render(strings.Join(flags, " ")))
				}
			}

			return nil
		},
	}
}
