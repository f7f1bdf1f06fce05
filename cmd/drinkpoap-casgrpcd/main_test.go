package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--list-backends"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "localfs")
	require.Contains(t, out.String(), "redis")
	require.NotContains(t, out.String(), "grpc\t")
}

func TestUnknownBackend(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--backend", "nope"}, &out, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "unknown backend")
}

func TestMissingLocalDir(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--backend", "localfs"}, &out, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "localfs-dir")
}

func TestTLSRequiresBothFiles(t *testing.T) {
	var out, errOut bytes.Buffer
	dir := t.TempDir()
	code := run(context.Background(), []string{"--backend", "localfs", "--localfs-dir", dir, "--tls-cert", "missing.pem"}, &out, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "load tls")
}
