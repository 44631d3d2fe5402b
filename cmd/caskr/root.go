package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskr/internal/bump"
	"github.com/ZebulonRouseFrantzich/caskr/internal/cask"
	"github.com/ZebulonRouseFrantzich/caskr/internal/config"
	"github.com/ZebulonRouseFrantzich/caskr/internal/fetch"
	"github.com/ZebulonRouseFrantzich/caskr/internal/installer"
	"github.com/ZebulonRouseFrantzich/caskr/internal/logging"
	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	"github.com/ZebulonRouseFrantzich/caskr/internal/release"
	"github.com/ZebulonRouseFrantzich/caskr/internal/state"
	"github.com/ZebulonRouseFrantzich/caskr/internal/verify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errAborted is returned when the user declines a confirmation prompt.
var errAborted = errors.New("aborted by user")

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	prefix  string
	arch    string
	verbose bool
	quiet   bool
}

// app holds the state built once per invocation.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	info   *platform.Info
	home   string
	logger *zap.Logger

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{in: stdin, out: stdout, errOut: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "caskr",
		Short:         "Install prebuilt binaries from declarative cask manifests",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.flags.prefix, "prefix", "", "install prefix (binaries go to <prefix>/bin)")
	flags.StringVar(&a.flags.arch, "arch", "", "target architecture (arm64 or amd64); defaults to the host")
	flags.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&a.flags.quiet, "quiet", "q", false, "only log warnings and errors")

	cmd.AddCommand(
		newInstallCmd(a),
		newUninstallCmd(a),
		newZapCmd(a),
		newLivecheckCmd(a),
		newInfoCmd(a),
		newListCmd(a),
		newBumpCmd(a),
		newVersionCmd(a),
	)

	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.flags.verbose && a.flags.quiet {
		return fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}

	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	info, err := platform.NewDetector().Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect platform: %w", err)
	}
	if a.flags.arch != "" {
		arch, err := platform.NormalizeArch(a.flags.arch)
		if err != nil {
			return fmt.Errorf("%w: %s", release.ErrUnsupportedArch, a.flags.arch)
		}
		info.Arch = arch
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determine home directory: %w", err)
	}

	if a.flags.prefix != "" {
		cfg.Prefix = a.flags.prefix
	}
	cfg.ApplyDefaults(info, home, os.Getenv)

	level := logging.Level(cfg.Log.Level)
	switch {
	case a.flags.verbose:
		level = "debug"
	case a.flags.quiet:
		level = "warn"
	}
	logger, err := logging.NewLogger(a.errOut, level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.info = info
	a.home = home
	a.logger = logger
	logger.Debug("configuration loaded", zap.Object("config", cfg), zap.String("platform", info.Platform), zap.String("arch", info.Arch))
	return nil
}

func (a *app) userAgent() string {
	return "caskr/" + strings.TrimPrefix(Version, "v")
}

func (a *app) parser() *manifest.Parser {
	return manifest.NewParser(&platform.StaticDetector{Info: a.info})
}

func (a *app) resolver() *release.Resolver {
	return release.NewResolver(
		release.WithAPIBase(a.cfg.GitHubAPI),
		release.WithUserAgent(a.userAgent()),
		release.WithLogger(a.logger.Named("release")),
	)
}

func (a *app) fetcher() *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithRetries(a.cfg.Retries),
		fetch.WithTimeout(a.cfg.Timeout),
		fetch.WithUserAgent(a.userAgent()),
		fetch.WithLogger(a.logger.Named("fetch")),
	}
	if !a.flags.quiet && !a.cfg.NoProgress {
		opts = append(opts, fetch.WithProgress(a.errOut))
	}
	return fetch.New(a.cfg.CacheDir, opts...)
}

func (a *app) manager() (*cask.Manager, error) {
	return cask.NewManager(cask.Config{
		Resolver:     a.resolver(),
		Fetcher:      a.fetcher(),
		Verifier:     verify.NewVerifier(a.logger.Named("verify")),
		Installer:    installer.New(a.cfg.BinDir(), installer.WithLogger(a.logger.Named("installer"))),
		Store:        state.NewStore(a.cfg.StateDir, state.RealClock{}),
		PlatformInfo: a.info,
		HomeDir:      a.home,
		Logger:       a.logger.Named("cask"),
	})
}

func (a *app) bumper() (*bump.Bumper, error) {
	return bump.New(bump.Config{
		Parser:   a.parser(),
		Resolver: a.resolver(),
		Fetcher:  a.fetcher(),
		Logger:   a.logger.Named("bump"),
	})
}

// manifestPath accepts a path to a manifest, or a cask name looked up as
// Casks/<name>.lua in the working directory.
func manifestPath(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}
	if !strings.ContainsRune(arg, filepath.Separator) && !strings.HasSuffix(arg, ".lua") {
		candidate := filepath.Join("Casks", arg+".lua")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("manifest not found: %s", arg)
}

func (a *app) loadManifest(cmd *cobra.Command, arg string) (*manifest.Manifest, error) {
	path, err := manifestPath(arg)
	if err != nil {
		return nil, err
	}
	return a.parser().ParseFile(cmd.Context(), path)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "version: %s\n", Version)
			fmt.Fprintf(a.out, "commit: %s\n", Commit)
			return nil
		},
	}
}
