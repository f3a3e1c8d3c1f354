package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GitCloner shells out to the git binary.
type GitCloner struct {
	// Binary defaults to "git" on PATH.
	Binary string
	Depth  int
}

func (g *GitCloner) Fetch(ctx context.Context, url, ref, dir string) error {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	args := []string{"clone", "--quiet"}
	if g.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(g.Depth))
	}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, "--", url, dir)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("git clone: %w: %s", err, msg)
		}
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}
