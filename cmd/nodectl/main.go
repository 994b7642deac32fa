package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/metorial/beacon/internal/cli"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nodectl",
	Short: "CLI for the beacon controller",
	Long: `nodectl is a command-line interface for the beacon controller API.

It queries host status, samples, outage history and fleet statistics, and manages
hosts and notification settings through the admin API.`,
	SilenceUsage: true,
}

func client() *cli.Client {
	return cli.NewClient(serverURL, adminToken)
}

func output(data map[string]any, table func(map[string]any) error) error {
	if outputJSON {
		return cli.FormatJSON(os.Stdout, data)
	}
	return table(data)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check controller health",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := client().Health(cmd.Context())
		if err != nil {
			return err
		}

		return output(data, func(data map[string]any) error {
			fmt.Printf("Status: %v\n", data["status"])
			fmt.Printf("Database: %v\n", data["database"])
			return nil
		})
	},
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage and query hosts",
}

var listHostsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := client().ListHosts(cmd.Context())
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error { return cli.FormatHostsTable(os.Stdout, d) })
	},
}

var getHostCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a host with its recent samples and outages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		data, err := client().GetHost(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error { return cli.FormatHostDetailTable(os.Stdout, d) })
	},
}

var addHostCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a host and print its secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := hostSpec(cmd, args[0])
		spec.ID, _ = cmd.Flags().GetString("id")
		data, err := client().CreateHost(cmd.Context(), spec)
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error {
			host, _ := d["host"].(map[string]any)
			fmt.Printf("Host ID: %v\n", host["id"])
			fmt.Printf("Secret: %v\n", d["secret"])
			return nil
		})
	},
}

// hostSpec reads the host flags shared by add and update. Coordinates are only sent
// when given.
func hostSpec(cmd *cobra.Command, name string) cli.HostSpec {
	f := cmd.Flags()
	spec := cli.HostSpec{Name: name}
	spec.IP, _ = f.GetString("ip")
	spec.Intro, _ = f.GetString("intro")
	spec.CountryCode, _ = f.GetString("country")
	if tags, _ := f.GetString("tags"); tags != "" {
		spec.Tags = strings.Split(tags, ",")
	}
	if f.Changed("lat") {
		lat, _ := f.GetFloat64("lat")
		spec.Latitude = &lat
	}
	if f.Changed("lon") {
		lon, _ := f.GetFloat64("lon")
		spec.Longitude = &lon
	}
	return spec
}

var updateHostCmd = &cobra.Command{
	Use:   "update [id] [name]",
	Short: "Replace the name, pinned IP and descriptors of a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := client().UpdateHost(cmd.Context(), args[0], hostSpec(cmd, args[1]))
		if err != nil {
			return err
		}
		return output(data, func(map[string]any) error {
			fmt.Printf("Updated %s\n", args[0])
			return nil
		})
	},
}

var removeHostCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a host and all of its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().DeleteHost(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var rotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret [id]",
	Short: "Issue a new secret; the old one stops working immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := client().RotateSecret(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error {
			fmt.Printf("Secret: %v\n", d["secret"])
			return nil
		})
	},
}

var outagesCmd = &cobra.Command{
	Use:   "outages",
	Short: "Show outage history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostID, _ := cmd.Flags().GetString("host")
		limit, _ := cmd.Flags().GetInt("limit")
		data, err := client().ListOutages(cmd.Context(), hostID, limit)
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error { return cli.FormatOutagesTable(os.Stdout, d) })
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Get fleet-wide statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := client().GetStats(cmd.Context())
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error { return cli.FormatStatsTable(os.Stdout, d) })
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := client().GetSettings(cmd.Context())
		if err != nil {
			return err
		}
		return output(data, func(d map[string]any) error { return cli.FormatSettings(os.Stdout, d) })
	},
}

var setSettingsCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Update settings such as telegram_bot_token and telegram_chat_id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := make(map[string]string, len(args))
		for _, arg := range args {
			k, v, ok := strings.Cut(arg, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid setting %q, expected key=value", arg)
			}
			settings[k] = v
		}
		if err := client().UpdateSettings(cmd.Context(), settings); err != nil {
			return err
		}
		fmt.Printf("Updated %d setting(s)\n", len(settings))
		return nil
	},
}

func init() {
	defaultServerURL := os.Getenv("BEACON_URL")
	if defaultServerURL == "" {
		defaultServerURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Controller URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("BEACON_ADMIN_TOKEN"), "Admin API token")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	getHostCmd.Flags().IntP("limit", "l", 100, "Number of samples to retrieve (max: 1000)")
	addHostCmd.Flags().String("id", "", "Host id (generated when empty)")
	addHostCmd.Flags().String("ip", "", "Only accept reports from this IP")
	updateHostCmd.Flags().String("ip", "", "Only accept reports from this IP (empty clears)")
	for _, c := range []*cobra.Command{addHostCmd, updateHostCmd} {
		c.Flags().String("intro", "", "Short description")
		c.Flags().String("tags", "", "Comma-separated tags")
		c.Flags().String("country", "", "Two-letter country code")
		c.Flags().Float64("lat", 0, "Map latitude")
		c.Flags().Float64("lon", 0, "Map longitude")
	}
	outagesCmd.Flags().String("host", "", "Only show outages of this host")
	outagesCmd.Flags().IntP("limit", "l", 20, "Number of outages to retrieve (max: 200)")

	hostsCmd.AddCommand(listHostsCmd, getHostCmd, addHostCmd, updateHostCmd, removeHostCmd, rotateSecretCmd)
	settingsCmd.AddCommand(setSettingsCmd)

	rootCmd.AddCommand(healthCmd, hostsCmd, outagesCmd, statsCmd, settingsCmd)
}
