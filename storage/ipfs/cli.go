package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/storage"
)

// cliTransport runs the Kubo binary against its local repo; no daemon is needed.
type cliTransport struct {
	bin    string
	env    []string
	pinned bool
}

func (c *cliTransport) put(ctx context.Context, data []byte) (cid.Cid, error) {
	out, err := c.run(ctx, data,
		"block", "put",
		"--cid-codec=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--pin="+strconv.FormatBool(c.pinned),
		"/dev/stdin",
	)
	if err != nil {
		return cid.Undef, err
	}
	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	return got, nil
}

func (c *cliTransport) get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return c.run(ctx, nil, "block", "get", id.String())
}

func (c *cliTransport) stat(ctx context.Context, id cid.Cid) error {
	_, err := c.run(ctx, nil, "block", "stat", "--offline", id.String())
	return err
}

func (c *cliTransport) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if c.env != nil {
		cmd.Env = c.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if isLikelyNotFound(msg) {
			return nil, storage.ErrNotFound
		}
		if msg == "" {
			return nil, fmt.Errorf("ipfs: %v", err)
		}
		return nil, fmt.Errorf("ipfs: %s", msg)
	}
	// The binary could not be started at all.
	return nil, fmt.Errorf("%w: ipfs: %v", storage.ErrUnavailable, err)
}
