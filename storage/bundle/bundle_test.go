package bundle_test

import (
	"archive/tar"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/bundle"
	"xdao.co/drinkpoap/storage/localfs"
	"xdao.co/drinkpoap/storage/memcas"
)

func TestBundle_ExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	doc, err := cas.Put(ctx, []byte(`{"name":"DynamicDrinkPOAP 2025"}`))
	if err != nil {
		t.Fatal(err)
	}
	img, err := cas.Put(ctx, []byte("\x89PNG fake"))
	if err != nil {
		t.Fatal(err)
	}

	var outA bytes.Buffer
	if err := bundle.Export(ctx, &outA, cas, []cid.Cid{img, doc}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	var outB bytes.Buffer
	if err := bundle.Export(ctx, &outB, cas, []cid.Cid{doc, img, doc}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("expected deterministic bundle bytes")
	}
}

func TestBundle_ImportRoundTripWithLabels(t *testing.T) {
	ctx := context.Background()
	src := memcas.New()

	payload := []byte("payload")
	id, err := src.Put(ctx, payload)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	opts := bundle.ExportOptions{IncludeIndex: true, Labels: map[string]cid.Cid{"document": id}}
	if err := bundle.Export(ctx, &buf, src, nil, opts); err != nil {
		t.Fatal(err)
	}

	dst, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	imported, err := bundle.Import(ctx, bytes.NewReader(buf.Bytes()), dst, bundle.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(imported.Blocks) != 1 || !imported.Blocks[0].Equals(id) {
		t.Fatalf("unexpected imported blocks: %v", imported.Blocks)
	}
	if got := imported.Labels["document"]; !got.Equals(id) {
		t.Fatalf("label document = %s want %s", got, id)
	}

	got, err := dst.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestBundle_ImportRejectsCIDMismatch(t *testing.T) {
	good := []byte("good")
	goodCID, err := cidutil.CIDv1RawSHA256CID(good)
	if err != nil {
		t.Fatal(err)
	}
	otherCID, err := cidutil.CIDv1RawSHA256CID([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if goodCID.Equals(otherCID) {
		t.Fatal("expected different CIDs")
	}

	// Name says otherCID but the bytes hash to goodCID.
	bundleBytes := makeTar(t, "blocks/"+otherCID.String(), good)

	_, err = bundle.Import(context.Background(), bytes.NewReader(bundleBytes), memcas.New(), bundle.ImportOptions{})
	if err != storage.ErrCIDMismatch {
		t.Fatalf("expected ErrCIDMismatch, got %v", err)
	}
}

func TestBundle_ImportUnknownEntry(t *testing.T) {
	bundleBytes := makeTar(t, "notes.txt", []byte("hi"))
	ctx := context.Background()

	if _, err := bundle.Import(ctx, bytes.NewReader(bundleBytes), memcas.New(), bundle.ImportOptions{}); err == nil {
		t.Fatalf("expected unknown entry error")
	}
	if _, err := bundle.Import(ctx, bytes.NewReader(bundleBytes), memcas.New(), bundle.ImportOptions{IgnoreUnknown: true}); err != nil {
		t.Fatalf("IgnoreUnknown: %v", err)
	}
}

func makeTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
