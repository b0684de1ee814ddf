package texrender

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
)

// Cache stores rendered snippet output keyed by a SHA-1 of the source, so
// repeated previews of the same snippet skip the compiler entirely.
type Cache struct {
	Dir string
}

// Key returns the hex SHA-1 of the snippet source.
func (c *Cache) Key(tex string) string {
	sum := sha1.Sum([]byte(tex))
	return hex.EncodeToString(sum[:])
}

// GetPDF returns the cached PDF for the snippet, or nil when absent.
func (c *Cache) GetPDF(tex string) []byte {
	data, err := os.ReadFile(filepath.Join(c.Dir, c.Key(tex)+".pdf"))
	if err != nil {
		return nil
	}
	return data
}

// PutPDF writes the PDF under the snippet's key, via temp file and rename.
func (c *Cache) PutPDF(tex string, pdf []byte) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(c.Dir, c.Key(tex)+".pdf")
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, pdf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// GetImage looks the snippet up in the cache, trying SVG then PNG.
func (c *Cache) GetImage(tex string) (Result, bool) {
	key := c.Key(tex)
	for _, format := range []string{"svg", "png"} {
		path := filepath.Join(c.Dir, key+"."+format)
		if _, err := os.Stat(path); err == nil {
			return Result{Path: path, Format: format}, true
		}
	}
	return Result{}, false
}

// SnippetPDF returns the compiled PDF for a snippet, consulting the cache.
// The snippet is wrapped into a standalone document when needed.
func (r *Renderer) SnippetPDF(ctx context.Context, cache *Cache, tex string) ([]byte, error) {
	if err := CheckForbidden(tex); err != nil {
		return nil, err
	}
	if pdf := cache.GetPDF(tex); pdf != nil {
		return pdf, nil
	}
	pdf, err := r.CompilePDF(ctx, WrapSnippet(tex))
	if err != nil {
		return nil, err
	}
	if err := cache.PutPDF(tex, pdf); err != nil {
		return nil, err
	}
	return pdf, nil
}

// SnippetImage returns the rendered SVG (or PNG fallback) for a snippet,
// consulting the cache.
func (r *Renderer) SnippetImage(ctx context.Context, cache *Cache, tex string) (Result, error) {
	if err := CheckForbidden(tex); err != nil {
		return Result{}, err
	}
	if res, ok := cache.GetImage(tex); ok {
		return res, nil
	}
	return r.RenderImage(ctx, WrapSnippet(tex), cache.Dir, cache.Key(tex))
}
