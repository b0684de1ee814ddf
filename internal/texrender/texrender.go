// Package texrender shells out to a TeX engine and PDF converters to turn
// LaTeX source into PDF and SVG/PNG images, with a file cache for snippets.
package texrender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrForbidden is returned for snippets using TeX primitives we refuse to
// compile. Tectonic disables shell-escape already; this blocks the rest.
var ErrForbidden = errors.New("forbidden tex primitive")

var forbidRe = regexp.MustCompile(`\\(write|openout|input\s*\{[^}]*\}|usepackage\[.*?\]\{shellesc\})`)

// snippetWrapper turns a bare snippet into a compilable standalone document.
const snippetWrapper = `\documentclass{standalone}
\usepackage[T1]{fontenc}
\usepackage{lmodern}
\usepackage{amsmath,amssymb}
\usepackage{tikz}
\begin{document}
%s
\end{document}
`

// Renderer runs the external TeX toolchain. Zero-value binary fields fall
// back to ./bin lookups and PATH.
type Renderer struct {
	TectonicBin   string
	PdftocairoBin string
	PdftoppmBin   string
	Timeout       time.Duration
}

// New builds a Renderer with the given binary overrides (empty means
// auto-discover) and compile timeout.
func New(tectonic, pdftocairo, pdftoppm string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{
		TectonicBin:   tectonic,
		PdftocairoBin: pdftocairo,
		PdftoppmBin:   pdftoppm,
		Timeout:       timeout,
	}
}

// CheckForbidden returns ErrForbidden when the snippet uses primitives we
// refuse to compile.
func CheckForbidden(tex string) error {
	if forbidRe.MatchString(tex) {
		return ErrForbidden
	}
	return nil
}

// WrapSnippet wraps a LaTeX fragment in a standalone document. Sources
// that already declare a document class compile as-is.
func WrapSnippet(tex string) string {
	if strings.Contains(tex, `\documentclass`) {
		return tex
	}
	return fmt.Sprintf(snippetWrapper, tex)
}

func (r *Renderer) tectonic() (string, error) {
	if r.TectonicBin != "" {
		return r.TectonicBin, nil
	}
	// Prefer a vendored binary in ./bin, else PATH.
	local := filepath.Join("bin", "tectonic")
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	exe, err := exec.LookPath("tectonic")
	if err != nil {
		return "", fmt.Errorf("tectonic not found: %w", err)
	}
	return exe, nil
}

func (r *Renderer) converter(override, name string) (string, error) {
	if override != "" {
		return override, nil
	}
	exe, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", name, err)
	}
	return exe, nil
}

// CompilePDF compiles a complete LaTeX document to PDF bytes. The modern
// "-X compile" CLI is tried first; older tectonic binaries take the file
// as a bare argument. Compile output is included in errors.
func (r *Renderer) CompilePDF(ctx context.Context, texSource string) ([]byte, error) {
	exe, err := r.tectonic()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "texrender-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	texPath := filepath.Join(dir, "doc.tex")
	if err := os.WriteFile(texPath, []byte(texSource), 0o644); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	env := append(os.Environ(), "TEXMFHOME="+filepath.Join(dir, "texmf"))

	modernOut, modernErr := runCmd(ctx, dir, env, exe,
		"-X", "compile", texPath, "--outdir", dir, "--synctex=0", "--keep-logs")
	if modernErr != nil {
		legacyOut, legacyErr := runCmd(ctx, dir, env, exe,
			texPath, "--outdir", dir, "--synctex=0", "--keep-logs")
		if legacyErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &CompileError{Log: modernOut + "\n" + legacyOut}
		}
	}

	pdf, err := os.ReadFile(filepath.Join(dir, "doc.pdf"))
	if err != nil {
		return nil, fmt.Errorf("tectonic produced no PDF: %w", err)
	}
	return pdf, nil
}

// CompileError carries the combined tectonic output of a failed compile.
type CompileError struct {
	Log string
}

func (e *CompileError) Error() string {
	return "tectonic failed:\n" + e.Log
}

// Result is a rendered image on disk.
type Result struct {
	Path   string // absolute path in the cache
	Format string // "svg" or "png"
}

// pdfToSVG converts a single-page PDF to SVG with pdftocairo.
func (r *Renderer) pdfToSVG(ctx context.Context, pdfPath, svgPath string) error {
	exe, err := r.converter(r.PdftocairoBin, "pdftocairo")
	if err != nil {
		return err
	}
	out, err := runCmd(ctx, filepath.Dir(pdfPath), nil, exe, "-svg", pdfPath, svgPath)
	if err != nil {
		return fmt.Errorf("pdftocairo: %v: %s", err, out)
	}
	if _, err := os.Stat(svgPath); err != nil {
		return fmt.Errorf("pdftocairo produced no SVG: %w", err)
	}
	return nil
}

// pdfToPNG rasterizes a single-page PDF with pdftoppm at 200 dpi.
func (r *Renderer) pdfToPNG(ctx context.Context, pdfPath, pngBase string) error {
	exe, err := r.converter(r.PdftoppmBin, "pdftoppm")
	if err != nil {
		return err
	}
	out, err := runCmd(ctx, filepath.Dir(pdfPath), nil, exe,
		"-png", "-singlefile", "-rx", "200", "-ry", "200", pdfPath, pngBase)
	if err != nil {
		return fmt.Errorf("pdftoppm: %v: %s", err, out)
	}
	if _, err := os.Stat(pngBase + ".png"); err != nil {
		return fmt.Errorf("pdftoppm produced no PNG: %w", err)
	}
	return nil
}

// RenderImage compiles a complete document and converts it to SVG, falling
// back to PNG when pdftocairo is unavailable or fails. The result is
// written to destDir/<baseName>.<ext> via a temp file and atomic rename.
func (r *Renderer) RenderImage(ctx context.Context, texSource, destDir, baseName string) (Result, error) {
	pdf, err := r.CompilePDF(ctx, texSource)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, err
	}

	workDir, err := os.MkdirTemp("", "texconvert-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(workDir)

	pdfPath := filepath.Join(workDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return Result{}, err
	}

	svgTmp := filepath.Join(workDir, "doc.svg")
	if svgErr := r.pdfToSVG(ctx, pdfPath, svgTmp); svgErr == nil {
		dest := filepath.Join(destDir, baseName+".svg")
		if err := moveAtomic(svgTmp, dest); err != nil {
			return Result{}, err
		}
		return Result{Path: dest, Format: "svg"}, nil
	} else {
		slog.Warn("pdftocairo failed, trying PNG", "error", svgErr)
	}

	pngBase := filepath.Join(workDir, "doc")
	if err := r.pdfToPNG(ctx, pdfPath, pngBase); err != nil {
		return Result{}, err
	}
	dest := filepath.Join(destDir, baseName+".png")
	if err := moveAtomic(pngBase+".png", dest); err != nil {
		return Result{}, err
	}
	return Result{Path: dest, Format: "png"}, nil
}

// moveAtomic copies src into dest's directory under a temp name and
// renames it into place, so concurrent renders never expose a partial file.
func moveAtomic(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func runCmd(ctx context.Context, dir string, env []string, exe string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
