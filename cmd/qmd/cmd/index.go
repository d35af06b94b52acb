package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qmd-dev/qmd/internal/output"
	"github.com/qmd-dev/qmd/pkg/qmd"
)

// bootstrapFile is the optional multi-collection config accepted by
// --config: a list of named collection roots, indexed in one pass.
type bootstrapFile struct {
	Collections []struct {
		Name    string `yaml:"name"`
		Root    string `yaml:"root"`
		Pattern string `yaml:"pattern"`
		Context string `yaml:"context"`
	} `yaml:"collections"`
}

func newIndexCmd() *cobra.Command {
	var (
		collection string
		pattern    string
		context_   string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory of Markdown files into a collection",
		Long: `Index scans a directory for files matching --pattern, chunks and
embeds each one, and refreshes both the keyword and semantic indices.

Re-running index over the same path only re-embeds files whose content
actually changed; unchanged files are skipped.

Use --config to bootstrap several collections from a YAML file instead
of a single path:

  collections:
    - name: notes
      root: ~/notes
      pattern: "*.md"
      context: personal notes, journal entries`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			e, err := qmd.Open(qmd.Options{Dir: indexDir})
			if err != nil {
				return fmt.Errorf("opening index: %w", err)
			}
			defer e.Close()

			if configPath != "" {
				return runBootstrapIndex(ctx, out, e, configPath)
			}

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			name := collection
			if name == "" {
				abs, err := filepath.Abs(path)
				if err != nil {
					abs = path
				}
				name = filepath.Base(abs)
			}
			return runIndexCollection(ctx, out, e, name, path, pattern, context_)
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name (defaults to the directory name)")
	cmd.Flags().StringVar(&pattern, "pattern", "*.md", "Glob pattern matched against file basenames")
	cmd.Flags().StringVar(&context_, "context", "", "Context text to attach to the collection")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML file bootstrapping multiple collections")

	return cmd
}

func runBootstrapIndex(ctx context.Context, out *output.Writer, e *qmd.Engine, configPath string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", configPath, err)
	}
	var cfg bootstrapFile
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", configPath, err)
	}
	for _, c := range cfg.Collections {
		pattern := c.Pattern
		if pattern == "" {
			pattern = "*.md"
		}
		root := expandHome(c.Root)
		if err := runIndexCollection(ctx, out, e, c.Name, root, pattern, c.Context); err != nil {
			return fmt.Errorf("collection %q: %w", c.Name, err)
		}
	}
	return nil
}

func runIndexCollection(ctx context.Context, out *output.Writer, e *qmd.Engine, name, root, pattern, contextText string) error {
	root = expandHome(root)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	if _, err := e.EnsureCollection(ctx, name, absRoot, pattern, contextText); err != nil {
		return fmt.Errorf("registering collection %q: %w", name, err)
	}

	var (
		scanned, indexed, unchanged int
	)

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		matched, err := filepath.Match(pattern, d.Name())
		if err != nil || !matched {
			return nil
		}

		body, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(absRoot, p)
		if err != nil {
			relPath = p
		}

		scanned++
		res, err := e.UpsertDocument(ctx, name, relPath, titleFromBody(string(body), relPath), string(body), info.ModTime())
		if err != nil {
			return fmt.Errorf("indexing %s: %w", relPath, err)
		}
		if res.ChunksEmbedded > 0 {
			indexed++
		} else {
			unchanged++
		}
		return nil
	})
	if err != nil {
		return err
	}

	out.Successf("%s: scanned %d, indexed %d, unchanged %d", name, scanned, indexed, unchanged)
	return nil
}

func titleFromBody(body, fallback string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return fallback
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
