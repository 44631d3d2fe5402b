package main

import (
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/caskr/internal/release"
	"github.com/ZebulonRouseFrantzich/caskr/internal/state"
	"github.com/spf13/cobra"
)

func newLivecheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "livecheck <cask>...",
		Short: "Report the newest upstream version of casks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := a.resolver()
			mgr, err := a.manager()
			if err != nil {
				return err
			}

			for _, arg := range args {
				m, err := a.loadManifest(cmd, arg)
				if err != nil {
					return err
				}

				latest, err := resolver.Latest(cmd.Context(), m)
				if err != nil {
					return fmt.Errorf("livecheck %s: %w", m.Name, err)
				}

				current := m.Version
				if m.IsLatest() {
					receipt, err := mgr.Receipt(m.Name)
					switch {
					case err == nil:
						current = receipt.Version
					case errors.Is(err, state.ErrNotInstalled):
						fmt.Fprintf(a.out, "%s: %s (not installed)\n", m.Name, latest)
						continue
					default:
						return err
					}
				}

				if release.CompareVersions(latest, current) > 0 {
					fmt.Fprintf(a.out, "%s: %s ==> %s\n", m.Name, current, latest)
				} else {
					fmt.Fprintf(a.out, "%s: %s (up to date)\n", m.Name, current)
				}
			}
			return nil
		},
	}
}
