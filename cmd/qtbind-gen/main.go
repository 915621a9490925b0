// qtbind-gen writes the native half of a binding from a class description:
// the C++ shims, their extern "C" header and the cgo callback exports.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CrimsonAS/qtbind/internal/gen"
	"github.com/CrimsonAS/qtbind/internal/utils"
	"go.uber.org/zap"
)

func main() {
	var (
		in      = flag.String("in", "", "Class description (JSON)")
		out     = flag.String("out", ".", "Output directory")
		module  = flag.String("module", "", "Override the module name of the description")
		pkg     = flag.String("pkg", "", "Go package of the generated cgo file")
		stub    = flag.Bool("stub", utils.QT_STUB(), "Generate wrappers that build without Qt")
		verbose = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "Usage: qtbind-gen -in classes.json [-out dir] [-module Core] [-pkg name] [-stub]")
		os.Exit(1)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	opts := gen.OptionsFromEnv()
	opts.GoPackage = *pkg
	opts.Stub = *stub

	if err := run(log, *in, *out, *module, opts); err != nil {
		log.Error("generation failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if utils.IsCI() {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(log *zap.Logger, in, out, module string, opts gen.Options) error {
	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("open description: %w", err)
	}
	defer f.Close()

	m, err := gen.Load(f)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	if module != "" {
		m.Name = module
	}

	files, err := gen.New(opts, gen.WithLogger(log)).Generate(m)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, file := range files {
		path := filepath.Join(out, file.Path)
		if err := os.WriteFile(path, file.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.Debug("wrote file", zap.String("path", path), zap.Int("bytes", len(file.Content)))
	}
	log.Info("binding generated",
		zap.String("module", m.Name),
		zap.String("dir", out),
		zap.Int("files", len(files)),
		zap.String("qt", utils.QT_VERSION()))
	return nil
}
