package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskr/internal/cask"
	"github.com/spf13/cobra"
)

func newUninstallCmd(a *app) *cobra.Command {
	var opts cask.UninstallOptions

	cmd := &cobra.Command{
		Use:   "uninstall <cask>...",
		Short: "Remove installed binaries and their receipts",
		Long: `Uninstall removes the binary recorded in the cask's receipt and the
receipt itself. User data listed under zap is kept.

A binary at the target path that caskr did not install is left alone
unless --force is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}

			for _, arg := range args {
				m, err := a.loadManifest(cmd, arg)
				if err != nil {
					return err
				}

				res, err := mgr.Uninstall(cmd.Context(), m, opts)
				if err != nil {
					return err
				}
				if len(res.Removed) == 0 {
					fmt.Fprintf(a.out, "%s is not installed\n", m.Name)
					continue
				}
				fmt.Fprintf(a.out, "✓ Uninstalled %s\n", m.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "also remove a binary caskr did not install")
	return cmd
}

type zapFlags struct {
	force  bool
	dryRun bool
}

func newZapCmd(a *app) *cobra.Command {
	var flags zapFlags

	cmd := &cobra.Command{
		Use:   "zap <cask>",
		Short: "Uninstall a cask and delete its user data",
		Long: `Zap uninstalls the cask and then deletes every path listed in the
manifest's zap table. Paths are shown before anything is removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			m, err := a.loadManifest(cmd, args[0])
			if err != nil {
				return err
			}

			if flags.dryRun {
				res, err := mgr.Zap(cmd.Context(), m, cask.ZapOptions{DryRun: true, Force: flags.force})
				if err != nil {
					showRemovalPlan(a.out, mgr.PlanRemoval(m, true))
					return err
				}
				showRemovalPlan(a.out, res.Plan)
				fmt.Fprintln(a.out)
				fmt.Fprintln(a.out, "Dry run: nothing was removed.")
				return nil
			}

			plan := mgr.PlanRemoval(m, true)
			showRemovalPlan(a.out, plan)
			if plan.Binary.Unmanaged && !flags.force {
				return fmt.Errorf("zap %s: %w: %s (use --force to remove it)", m.Name, cask.ErrNotManaged, plan.Binary.Path)
			}
			if plan.Empty() && !plan.Binary.Unmanaged {
				return nil
			}

			if !flags.force {
				ok, err := confirm(a.in, a.out, "Permanently delete these paths? (yes/no): ")
				if err != nil {
					return fmt.Errorf("confirmation: %w", err)
				}
				if !ok {
					return errAborted
				}
			}

			res, err := mgr.Zap(cmd.Context(), m, cask.ZapOptions{Force: flags.force})
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out)
			fmt.Fprintf(a.out, "✓ Zapped %s (%d paths removed, %s freed)\n",
				m.Name, len(res.Removed), formatSize(plan.TotalSize()))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "skip the confirmation prompt and remove a binary caskr did not install")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "show what would be removed without removing it")
	return cmd
}

// showRemovalPlan prints the paths a zap would delete.
func showRemovalPlan(w io.Writer, plan *cask.RemovalPlan) {
	fmt.Fprintf(w, "Zap plan for %s\n", plan.Name)
	fmt.Fprintln(w)

	if plan.Empty() && !hasRefused(plan) {
		fmt.Fprintln(w, "Nothing to remove.")
		return
	}

	printItem(w, "binary", plan.Binary)
	printItem(w, "receipt", plan.Receipt)
	for _, item := range plan.ZapTargets {
		printItem(w, "zap", item)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total disk space to be freed: %s\n", formatSize(plan.TotalSize()))
}

func printItem(w io.Writer, kind string, item cask.RemovalItem) {
	switch {
	case item.Refused != "":
		fmt.Fprintf(w, "  [!] %-7s %s (refused: %s)\n", kind, item.Path, item.Refused)
	case item.Unmanaged:
		fmt.Fprintf(w, "  [!] %-7s %s (not installed by caskr)\n", kind, item.Path)
	case item.Exists:
		fmt.Fprintf(w, "  [×] %-7s %s (%s)\n", kind, item.Path, formatSize(item.Size))
	default:
		fmt.Fprintf(w, "  [ ] %-7s %s (not present)\n", kind, item.Path)
	}
}

func hasRefused(plan *cask.RemovalPlan) bool {
	if plan.Binary.Unmanaged {
		return true
	}
	for _, item := range plan.ZapTargets {
		if item.Refused != "" {
			return true
		}
	}
	return false
}

// confirm asks a yes/no question; anything but yes or y declines.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintln(out)
	fmt.Fprint(out, prompt)

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read input: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes" || response == "y", nil
}

// formatSize formats bytes as human-readable size
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
