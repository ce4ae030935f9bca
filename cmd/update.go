package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smazurov/loopcast/internal/systemd"
	"github.com/smazurov/loopcast/internal/updater"
	"github.com/smazurov/loopcast/internal/version"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var (
		repo                        string
		check, rollback, prerelease bool
		asJSON                      bool
		restart, systemBus          bool
		unit                        string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update loopcast to the latest release",
		Long: `Checks GitHub releases and replaces the loopcast binary with the latest one. ` +
			`The current binary is backed up first and restored if the update fails. ` +
			`Restart the service afterwards to run the new version.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			out := c.OutOrStdout()

			src, err := updater.NewGitHubSource(repo, prerelease)
			if err != nil {
				return err
			}
			u, err := updater.New(src, version.Version, nil)
			if err != nil {
				return err
			}

			if rollback {
				restored, rbErr := u.Rollback(ctx)
				if rbErr != nil {
					return rbErr
				}
				fmt.Fprintf(out, "Restored %s\n", restored)
				if restart {
					return restartUnit(c, unit, systemBus)
				}
				return nil
			}

			var info *updater.UpdateInfo
			if check {
				info, err = u.Check(ctx)
			} else {
				info, err = u.Apply(ctx)
			}
			if updater.Code(err) == updater.ErrCodeNoUpdate && info != nil {
				err = nil
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(info); err != nil {
					return err
				}
			} else {
				switch {
				case !info.UpdateAvailable:
					fmt.Fprintf(out, "loopcast %s is up to date\n", info.CurrentVersion)
				case check:
					fmt.Fprintf(out, "Update available: %s -> %s\n%s\n", info.CurrentVersion, info.LatestVersion, info.ReleaseURL)
				case !restart:
					fmt.Fprintf(out, "Updated %s -> %s, restart loopcast to apply\n", info.CurrentVersion, info.LatestVersion)
				default:
					fmt.Fprintf(out, "Updated %s -> %s\n", info.CurrentVersion, info.LatestVersion)
				}
			}

			if restart && !check && info.UpdateAvailable {
				return restartUnit(c, unit, systemBus)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&repo, "repo", updater.DefaultRepository, "GitHub repository slug")
	flags.BoolVar(&check, "check", false, "Only report whether an update is available")
	flags.BoolVar(&rollback, "rollback", false, "Restore the binary saved by the last update")
	flags.BoolVar(&prerelease, "prerelease", false, "Include prereleases")
	flags.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	flags.BoolVar(&restart, "restart", false, "Restart the systemd unit after updating or rolling back")
	flags.StringVar(&unit, "unit", systemd.DefaultUnit, "systemd unit to restart")
	flags.BoolVar(&systemBus, "system", false, "Use the system bus instead of the user bus")

	return cmd
}

func restartUnit(c *cobra.Command, unit string, systemBus bool) error {
	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	mgr, err := systemd.NewManager(ctx, systemBus)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.RestartService(ctx, unit); err != nil {
		return fmt.Errorf("restarting %s: %w", unit, err)
	}

	state, err := mgr.ServiceStatus(ctx, unit)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.OutOrStdout(), "Restarted %s (%s)\n", unit, state)
	return nil
}
