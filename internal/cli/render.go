package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/pipeline"
)

type renderOpts struct {
	output      string
	templateDir string
	templateURL string
}

func newRenderCmd() *cobra.Command {
	opts := renderOpts{output: "."}

	cmd := &cobra.Command{
		Use:   "render [scene.toml]...",
		Short: "Render one or more scene files to PNG",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := export.Startup(); err != nil {
				return err
			}
			defer export.Shutdown()

			for _, path := range args {
				out, err := runRender(cmd.Context(), opts, path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", opts.output, "directory to write PNGs into")
	cmd.Flags().StringVar(&opts.templateDir, "templates", "", "directory holding cover.json and profile/ overlays")
	cmd.Flags().StringVar(&opts.templateURL, "templates-url", "", "base URL serving cover.json and profile/ overlays")
	return cmd
}

func runRender(ctx context.Context, opts renderOpts, path string) (string, error) {
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	scene, err := loadScene(path)
	if err != nil {
		return "", err
	}
	logger.Debug("scene loaded", "path", path, "kind", scene.Kind, "photos", len(scene.ObjectKeys()))

	proc := pipeline.NewProcessor(pipeline.LocalFileFetcher{}, dirEmitter{dir: opts.output}, templateSource(opts), nil)
	out, err := proc.Process(ctx, pipeline.Request{
		JobID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Scene: scene,
	})
	if err != nil {
		return "", err
	}

	if out.Resampled {
		logger.Debug("resampled", "native", fmt.Sprintf("%dx%d", out.Native.X, out.Native.Y))
	}
	prog.done(fmt.Sprintf("Rendered %s %dx%d, %d bytes", out.Name, out.Width, out.Height, out.Bytes))
	return out.Path, nil
}

func templateSource(opts renderOpts) cover.TemplateSource {
	switch {
	case opts.templateURL != "":
		return cover.HTTPSource{BaseURL: opts.templateURL, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
	case opts.templateDir != "":
		return cover.DirSource{FS: os.DirFS(opts.templateDir), Root: opts.templateDir}
	default:
		return nil
	}
}

// dirEmitter writes exports straight into a directory, named as the
// composition names them.
type dirEmitter struct {
	dir string
}

func (e dirEmitter) Emit(ctx context.Context, _ pipeline.Request, name string, data []byte) (string, error) {
	if err := (export.FileSink{Dir: e.dir}).Write(ctx, name, data); err != nil {
		return "", err
	}
	return filepath.Join(e.dir, filepath.Base(name)), nil
}
