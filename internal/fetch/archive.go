package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// extractMember copies the single archive member matching pattern into dir.
// Zero or several matches are errors.
func extractMember(ctx context.Context, archivePath, pattern, dir string) (string, string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	var matches []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if memberMatches(pattern, f.Name) {
			matches = append(matches, f)
		}
	}

	switch len(matches) {
	case 0:
		return "", "", fmt.Errorf("archive member %q not found", pattern)
	case 1:
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return "", "", fmt.Errorf("archive member %q matches %d members: %s", pattern, len(matches), strings.Join(names, ", "))
	}

	member := matches[0]
	rc, err := member.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open member %s: %w", member.Name, err)
	}
	defer rc.Close()

	dest := filepath.Join(dir, "member"+strings.ToLower(path.Ext(member.Name)))
	out, err := os.Create(dest)
	if err != nil {
		return "", "", err
	}
	_, copyErr := io.Copy(out, &ctxReader{ctx: ctx, r: rc})
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return "", "", fmt.Errorf("failed to extract member %s: %w", member.Name, copyErr)
	}
	return member.Name, dest, nil
}

func memberMatches(pattern, name string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(name))
	return ok
}

// ctxReader stops a long copy once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
