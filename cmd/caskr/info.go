package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	"github.com/ZebulonRouseFrantzich/caskr/internal/release"
	"github.com/ZebulonRouseFrantzich/caskr/internal/state"
	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <cask>",
		Short: "Show a cask manifest and its install state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest(cmd, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "%s: %s\n", m.Name, m.Version)
			if m.Desc != "" {
				fmt.Fprintln(a.out, m.Desc)
			}
			if m.Homepage != "" {
				fmt.Fprintln(a.out, m.Homepage)
			}
			fmt.Fprintf(a.out, "Binary: %s", m.Binary)
			if m.Target != "" && m.Target != m.Binary {
				fmt.Fprintf(a.out, " (installed as %s)", m.Target)
			}
			fmt.Fprintln(a.out)

			fmt.Fprintln(a.out, "Artifacts:")
			for _, arch := range platform.SupportedArchs {
				if m.IsLatest() {
					fmt.Fprintf(a.out, "  %-6s %s\n", arch, release.ExpandURL(m.URL, "{version}", arch))
					continue
				}
				rel, err := release.ForVersion(m, m.Version, arch)
				if err != nil {
					fmt.Fprintf(a.out, "  %-6s unavailable: %v\n", arch, err)
					continue
				}
				digest := rel.SHA256
				if rel.NoCheck {
					digest = "no_check"
				}
				fmt.Fprintf(a.out, "  %-6s %s\n         sha256 %s\n", arch, rel.URL, digest)
			}

			if len(m.Zap) > 0 {
				fmt.Fprintln(a.out, "Zap:")
				for _, p := range m.Zap {
					fmt.Fprintf(a.out, "  %s\n", p)
				}
			}

			mgr, err := a.manager()
			if err != nil {
				return err
			}
			receipt, err := mgr.Receipt(m.Name)
			switch {
			case errors.Is(err, state.ErrNotInstalled):
				fmt.Fprintf(a.out, "Not installed (binaries go to %s)\n", mgr.BinDir())
			case err != nil:
				return err
			default:
				fmt.Fprintf(a.out, "Installed: %s (%s) at %s on %s\n",
					receipt.Version, receipt.Arch, receipt.BinaryPath,
					receipt.InstalledAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed casks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			receipts, err := mgr.List()
			if err != nil {
				return err
			}
			if len(receipts) == 0 {
				fmt.Fprintln(a.out, "No casks installed.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tARCH\tVERIFIED\tPATH")
			for _, r := range receipts {
				verified := "no"
				if r.Verified {
					verified = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Version, r.Arch, verified, r.BinaryPath)
			}
			return w.Flush()
		},
	}
}
