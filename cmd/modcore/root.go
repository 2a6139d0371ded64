// Package modcore builds the cobra root command: a thin wiring layer
// over the core's public operations, per spec's exclusion of "CLI
// argument parsing depth" from the core itself. No resolution or
// caching logic lives here.
package modcore

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	modcoreconfig "github.com/jsruntime/modcore/internal/config"
	modcorecontext "github.com/jsruntime/modcore/internal/context"
	"github.com/jsruntime/modcore/internal/fs"
	"github.com/jsruntime/modcore/internal/graph"
	"github.com/jsruntime/modcore/internal/loader"
	"github.com/jsruntime/modcore/internal/npmregistry"
	"github.com/jsruntime/modcore/internal/specifier"
	"github.com/jsruntime/modcore/internal/turbopath"
)

// globalFlags hold the flags every subcommand shares.
type globalFlags struct {
	cwd      string
	debug    bool
	logJSON  bool
	cacheDir string
}

func (g *globalFlags) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&g.cwd, "cwd", "", "directory to resolve modules from (defaults to the working directory)")
	flags.BoolVar(&g.debug, "verbose", false, "enable debug-level logging")
	flags.BoolVar(&g.logJSON, "log-json", false, "emit logs as JSON")
	flags.StringVar(&g.cacheDir, "cache-dir", "", "root directory for the emit/header/registry caches (defaults to $HOME/.cache/modcore)")
}

// cacheRoot resolves g's --cache-dir, falling back to fs.DefaultCacheRoot
// when unset.
func (g *globalFlags) cacheRoot() (turbopath.AbsoluteSystemPath, error) {
	if g.cacheDir != "" {
		return turbopath.AbsoluteSystemPathFromUpstream(g.cacheDir), nil
	}
	return fs.DefaultCacheRoot()
}

func (g *globalFlags) logger() hclog.Logger {
	level := hclog.Info
	if g.debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "modcore",
		Level:      level,
		Output:     os.Stderr,
		JSONFormat: g.logJSON,
	})
}

func (g *globalFlags) root() (turbopath.AbsoluteSystemPath, error) {
	if g.cwd != "" {
		return turbopath.AbsoluteSystemPathFromUpstream(g.cwd), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return turbopath.AbsoluteSystemPathFromUpstream(wd), nil
}

// Execute runs the modcore CLI with os.Args, returning the process
// exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// NewRootCommand builds the cobra command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "modcore",
		Short: "Module resolution, loading, and caching core",
	}
	g.addFlags(root.PersistentFlags())
	root.AddCommand(newLoadCommand(g))
	root.AddCommand(newInfoCommand(g))
	return root
}

// newSession builds a modcorecontext.Session from flags/env/config,
// rooted at g's resolved cwd, with a lockfile at <root>/modcore.lock.
func newSession(g *globalFlags, cmd *cobra.Command, frozen bool) (*modcorecontext.Session, error) {
	logger := g.logger()
	rootPath, err := g.root()
	if err != nil {
		return nil, err
	}

	opts, err := modcoreconfig.Load(viper.New(), cmd.Flags(), logger.Named("config"))
	if err != nil {
		return nil, err
	}

	cacheRoot, err := g.cacheRoot()
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	lockfilePath := fs.UnsafeToAbsolutePath(rootPath.Join(turbopath.RelativeSystemPath("modcore.lock")).ToString())

	return modcorecontext.New(
		modcorecontext.WithLogger(logger),
		modcorecontext.WithOptions(opts),
		modcorecontext.WithWorkspace(rootPath),
		modcorecontext.WithHTTPClient(30*time.Second, 5, "modcore/0.1"),
		modcorecontext.WithRegistries(cacheRoot.ToString(), npmregistry.CacheSettingUse),
		modcorecontext.WithEmitCache(cacheRoot.Join(turbopath.RelativeSystemPath("emit")).ToString()),
		modcorecontext.WithHeaderCache(cacheRoot.Join(turbopath.RelativeSystemPath("headers")).ToString()),
		modcorecontext.WithLockfile(lockfilePath, frozen),
	)
}

func newLoadCommand(g *globalFlags) *cobra.Command {
	var frozen bool
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "load <entry-specifier>",
		Short: "Load a module graph from the given entry specifier and update the lockfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession(g, cmd, frozen)
			if err != nil {
				return err
			}
			defer session.Close()
			entry, err := specifier.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing entry specifier: %w", err)
			}

			mg := graph.New()
			mg.AddEntryPoint(specifier.EnvServer, entry)

			src := session.Source()
			load := loader.StartMain(cmd.Context(), src, noopFinish{}, entry.String())
			if err := load.Prepare(); err != nil {
				return fmt.Errorf("preparing load: %w", err)
			}
			load.Start()

			for {
				result, err := load.PollNext(cmd.Context())
				if err != nil {
					mg.RecordError(entry, err)
					session.Logger.Warn("module load failed", "error", err)
					continue
				}
				if result == nil {
					break
				}
				mg.Insert(result.Module)
			}

			if err := mg.Validate(); err != nil {
				return err
			}

			session.SyncWorkspaceIntoLockfile()
			changed, err := session.WriteLockfile(dryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d modules; lockfile changed: %v\n", len(mg.Modules()), changed)
			return nil
		},
	}
	modcoreconfig.Flags(cmd.Flags())
	cmd.Flags().BoolVar(&frozen, "frozen", false, "fail instead of writing the lockfile if it would change")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the lockfile but skip writing it")
	return cmd
}

func newInfoCommand(g *globalFlags) *cobra.Command {
	var jsr bool
	cmd := &cobra.Command{
		Use:   "info <package-name>",
		Short: "Fetch registry package info for the given npm or jsr package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession(g, cmd, false)
			if err != nil {
				return err
			}
			defer session.Close()
			provider := session.NpmRegistry
			if jsr {
				provider = session.JsrRegistry
			}
			info, err := provider.PackageInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d versions, dist-tags %v\n", info.Name, len(info.Versions), info.DistTags)
			fmt.Fprintln(cmd.OutOrStdout(), provider.Stats())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsr, "jsr", false, "query the jsr registry instead of npm")
	return cmd
}

// noopFinish satisfies loader.FinishLoad for the CLI driver, which has
// no registry connection slots or in-flight counters of its own to
// release beyond what the session's components already track.
type noopFinish struct{}

func (noopFinish) FinishLoad() {}
