package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/bibin-skaria/imagetree/archive"
	"github.com/bibin-skaria/imagetree/render"
	"github.com/bibin-skaria/imagetree/tree"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		long      bool
		color     string
		icons     string
		layers    bool
		themeJSON string
		themeFile string
		dirsFirst bool
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "imagetree [archive]",
		Short: "Visualize the merged filesystem tree of a container image archive",
		Long: `imagetree reconstructs the effective filesystem of a container image
archive (the tar produced by an image-save operation) by folding every layer
in manifest order, applying whiteout and opaque-directory markers, and prints
the result as a tree. File contents are never extracted; memory use is
independent of image size.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if level, err := logrus.ParseLevel(logLevel); err == nil {
				logrus.SetLevel(level)
			} else {
				return fmt.Errorf("invalid log level %q: %v", logLevel, err)
			}

			theme, err := resolveTheme(themeJSON, themeFile)
			if err != nil {
				return err
			}

			opts := render.Options{
				Long:       long,
				ShowLayers: layers,
				UseColor:   resolveColor(color),
				DirsFirst:  dirsFirst,
				Icons:      render.ParseIconStyle(icons),
				Theme:      theme,
			}

			return run(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show permissions and ownership")
	cmd.Flags().StringVar(&color, "color", "auto", "When to colorize output: auto, always, never")
	cmd.Flags().StringVar(&icons, "icons", "none", "Icon style: none, emoji, nerd")
	cmd.Flags().BoolVar(&layers, "layers", false, "Show layer separators with abbreviated hash")
	cmd.Flags().StringVar(&themeJSON, "theme", "", `Inline theme overrides as JSON (e.g. '{"directory":"#7daea3"}')`)
	cmd.Flags().StringVar(&themeFile, "theme-file", "", "YAML theme file")
	cmd.Flags().BoolVar(&dirsFirst, "dirs-first", false, "List directories before files")
	cmd.Flags().StringVar(&logLevel, "log-level", "warning", "Log level: debug, info, warning, error")

	return cmd
}

func run(ctx context.Context, path string, opts render.Options) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %v", err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	img, err := archive.Open(file)
	if err != nil {
		return err
	}

	merged, err := tree.NewMerger(logrus.StandardLogger()).Fold(ctx, img)
	if err != nil {
		return err
	}

	links := tree.ResolveLinks(merged)

	renderer := render.NewRenderer(os.Stdout, opts)
	if err := renderer.Render(merged, links); err != nil {
		return err
	}

	if warnings := merged.Warnings(); len(warnings) > 0 {
		logrus.WithField("count", len(warnings)).Warn("Some entries were skipped")
		for _, w := range warnings {
			logrus.WithFields(logrus.Fields{
				"path":   w.Path,
				"reason": w.Reason,
				"layer":  w.Layer.Index,
			}).Warn("Skipped entry")
		}
	}

	return nil
}

func resolveTheme(inline, path string) (render.Theme, error) {
	theme := render.DefaultTheme()
	var err error

	if path != "" {
		theme, err = render.LoadThemeFile(path)
		if err != nil {
			return render.Theme{}, err
		}
	}
	if inline != "" {
		theme, err = render.ThemeFromJSON(inline)
		if err != nil {
			return render.Theme{}, err
		}
	}
	return theme, nil
}

func resolveColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}
