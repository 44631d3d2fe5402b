package main

import (
	"fmt"

	"github.com/ZebulonRouseFrantzich/caskr/internal/cask"
	"github.com/ZebulonRouseFrantzich/caskr/internal/verify"
	"github.com/spf13/cobra"
)

func newInstallCmd(a *app) *cobra.Command {
	var opts cask.InstallOptions

	cmd := &cobra.Command{
		Use:   "install <cask>...",
		Short: "Download, verify and install casks",
		Long: `Install resolves the release for the host architecture, downloads it into
the cache, verifies its sha256 (and signature when configured) and installs
the binary into <prefix>/bin.

A cask is a path to a manifest or a name found as Casks/<name>.lua.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			opts.Arch = a.info.Arch

			for _, arg := range args {
				m, err := a.loadManifest(cmd, arg)
				if err != nil {
					return err
				}

				res, err := mgr.Install(cmd.Context(), m, opts)
				if err != nil {
					return fmt.Errorf("install %s: %w", m.Name, err)
				}

				if res.Skipped {
					fmt.Fprintf(a.out, "%s %s is already installed at %s\n", res.Name, res.Version, res.Path)
					continue
				}
				fmt.Fprintf(a.out, "✓ Installed %s %s (%s) to %s\n", res.Name, res.Version, res.Arch, res.Path)
				if res.Verification == verify.MethodNone {
					fmt.Fprintln(a.out, "  ⚠ checksum not verified")
				}
				if res.Verification == verify.MethodGPG {
					fmt.Fprintln(a.out, "  signature verified")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "reinstall even if already installed, overwriting a binary caskr did not install")
	cmd.Flags().BoolVar(&opts.SkipVerify, "skip-verify", false, "do not verify the sha256 digest")
	return cmd
}
