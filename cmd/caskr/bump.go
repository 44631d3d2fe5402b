package main

import (
	"fmt"
	"sort"

	"github.com/ZebulonRouseFrantzich/caskr/internal/bump"
	"github.com/spf13/cobra"
)

func newBumpCmd(a *app) *cobra.Command {
	var opts bump.Options

	cmd := &cobra.Command{
		Use:   "bump <cask>",
		Short: "Update a manifest to a new version and recompute its digests",
		Long: `Bump resolves the target version (the newest upstream release unless
--version is given), downloads every architecture's artifact, and rewrites
the manifest's version and sha256 entries. The manifest is restored from
<file>.backup if the rewrite fails. An explicit --version must exist as a
GitHub release. --push commits and pushes the change to origin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := manifestPath(args[0])
			if err != nil {
				return err
			}
			b, err := a.bumper()
			if err != nil {
				return err
			}

			res, err := b.Bump(cmd.Context(), path, opts)
			if err != nil {
				return err
			}

			if res.UpToDate {
				fmt.Fprintf(a.out, "%s is already at %s\n", res.Name, res.Version)
				return nil
			}

			fmt.Fprintf(a.out, "✓ Bumped %s %s ==> %s\n", res.Name, res.OldVersion, res.Version)
			keys := make([]string, 0, len(res.Digests))
			for k := range res.Digests {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(a.out, "  %-7s %s\n", k, res.Digests[k])
			}
			switch {
			case res.Pushed:
				fmt.Fprintf(a.out, "  committed %s and pushed\n", shortHash(res.Commit))
			case res.Committed:
				fmt.Fprintf(a.out, "  committed %s\n", shortHash(res.Commit))
			case opts.Commit || opts.Push:
				fmt.Fprintln(a.out, "  nothing to commit")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Version, "version", "", "target version (default: newest upstream release)")
	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "commit the updated manifest with git")
	cmd.Flags().BoolVar(&opts.Push, "push", false, "commit and push the updated manifest to origin")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "rewrite even if already at the target version")
	return cmd
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
