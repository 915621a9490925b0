// Package gen generates the native half of a binding: a C++ shim class per
// described Qt class, the flat extern "C" functions over it, and the cgo
// file that exports the shims' callbacks to Go.
package gen

import (
	"fmt"
	"strings"

	"github.com/CrimsonAS/qtbind/internal/utils"
	"go.uber.org/zap"
)

// OutputFile is one generated file, relative to the output directory.
type OutputFile struct {
	Path    string
	Content []byte
}

type Options struct {
	// GoPackage names the package of the generated cgo file. It defaults
	// to the lowercased module name.
	GoPackage string
	// Stub generates a Go file that builds without Qt: wrappers return
	// zero values and no native sources are written.
	Stub bool
	// Debug adds debug flags to the cgo preamble.
	Debug bool
	// QtVersion selects the major version in pkg-config names.
	QtVersion string
}

// OptionsFromEnv reads options from the QT_ environment.
func OptionsFromEnv() Options {
	return Options{
		Stub:      utils.QT_STUB(),
		Debug:     utils.QT_DEBUG(),
		QtVersion: utils.QT_VERSION(),
	}
}

type Generator struct {
	opts Options
	log  *zap.Logger
}

type GeneratorOption func(*Generator)

func WithLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		g.log = l
	}
}

func New(opts Options, options ...GeneratorOption) *Generator {
	g := &Generator{opts: opts, log: zap.NewNop()}
	for _, o := range options {
		o(g)
	}
	if g.opts.QtVersion == "" {
		g.opts.QtVersion = "5.8.0"
	}
	return g
}

// Generate writes the binding of m: <module>.h, <module>.cpp and
// <module>_cgo.go, all lowercased. In stub mode only the Go file is
// written.
func (g *Generator) Generate(m *Module) ([]*OutputFile, error) {
	p, err := g.plan(m)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name, err)
	}

	funcs, callbacks := 0, 0
	for _, cp := range p.classes {
		funcs += len(cp.funcs)
		callbacks += len(cp.callbacks)
	}
	g.log.Info("generating module",
		zap.String("module", m.Name),
		zap.Int("classes", len(p.classes)),
		zap.Int("functions", funcs),
		zap.Int("callbacks", callbacks),
		zap.Bool("stub", g.opts.Stub))

	base := strings.ToLower(m.Name)
	goFile, err := g.goFile(p)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name, err)
	}
	goOut := &OutputFile{Path: base + "_cgo.go", Content: goFile}
	if g.opts.Stub {
		return []*OutputFile{goOut}, nil
	}

	return []*OutputFile{
		{Path: base + ".h", Content: []byte(g.header(p))},
		{Path: base + ".cpp", Content: []byte(g.cpp(p))},
		goOut,
	}, nil
}

func (g *Generator) goPackage(m *Module) string {
	if g.opts.GoPackage != "" {
		return g.opts.GoPackage
	}
	return strings.ToLower(m.Name)
}
