package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bibin-skaria/imagetree/internal/errors"
	"github.com/bibin-skaria/imagetree/internal/types"
)

type tarFile struct {
	hdr  *tar.Header
	data []byte
}

func buildTar(t *testing.T, files []tarFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		if f.hdr.Size == 0 && len(f.data) > 0 {
			f.hdr.Size = int64(len(f.data))
		}
		if f.hdr.ModTime.IsZero() {
			f.hdr.ModTime = time.Unix(1700000000, 0)
		}
		if err := tw.WriteHeader(f.hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", f.hdr.Name, err)
		}
		if len(f.data) > 0 {
			if _, err := tw.Write(f.data); err != nil {
				t.Fatalf("Write(%s): %v", f.hdr.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	return buf.Bytes()
}

func regFile(name string, data []byte) tarFile {
	return tarFile{
		hdr:  &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(data))},
		data: data,
	}
}

// simpleLayer builds a layer tar with one file per name.
func simpleLayer(t *testing.T, names ...string) []byte {
	t.Helper()
	files := make([]tarFile, len(names))
	for i, name := range names {
		files[i] = regFile(name, []byte("content of "+name))
	}
	return buildTar(t, files)
}

// dockerArchive assembles an outer docker-save archive from named layers.
func dockerArchive(t *testing.T, manifest string, layers map[string][]byte) []byte {
	t.Helper()
	files := []tarFile{regFile("manifest.json", []byte(manifest))}
	for name, data := range layers {
		files = append(files, regFile(name, data))
	}
	return buildTar(t, files)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func collectPaths(t *testing.T, s *EntryStream) []string {
	t.Helper()
	var paths []string
	for {
		rec, err := s.Next()
		if err == io.EOF {
			return paths
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		paths = append(paths, rec.Path)
	}
}

func TestOpenDockerArchive(t *testing.T) {
	manifest := `[{"Config":"cfg.json","RepoTags":["test:latest"],
		"Layers":["aaa111fff/layer.tar","bbb222eee/layer.tar"]}]`
	img, err := Open(bytes.NewReader(dockerArchive(t, manifest, map[string][]byte{
		"aaa111fff/layer.tar": simpleLayer(t, "etc/passwd"),
		"bbb222eee/layer.tar": simpleLayer(t, "etc/group"),
	})))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	layers := img.Layers()
	if len(layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(layers))
	}
	if layers[0].Name != "aaa111fff/layer.tar" || layers[0].Index != 0 {
		t.Errorf("base layer = %+v", layers[0])
	}
	if layers[1].Index != 1 {
		t.Errorf("second layer index = %d, want 1", layers[1].Index)
	}
	if layers[0].Hash != "aaa111f" {
		t.Errorf("abbreviated hash = %q, want aaa111f", layers[0].Hash)
	}

	stream, err := img.OpenLayer(0)
	if err != nil {
		t.Fatalf("OpenLayer(0): %v", err)
	}
	defer stream.Close()
	if got := collectPaths(t, stream); len(got) != 1 || got[0] != "etc/passwd" {
		t.Errorf("layer 0 entries = %v", got)
	}
}

func TestOpenManifestMissing(t *testing.T) {
	raw := buildTar(t, []tarFile{regFile("random.txt", []byte("hello"))})
	_, err := Open(bytes.NewReader(raw))
	if !errors.IsCode(err, errors.CodeManifestMissing) {
		t.Errorf("err = %v, want manifest_missing", err)
	}
}

func TestOpenManifestMalformed(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		layers   map[string][]byte
	}{
		{
			name:     "invalid JSON",
			manifest: `{{{`,
			layers:   map[string][]byte{"x/layer.tar": simpleLayer(t, "f")},
		},
		{
			name:     "no images",
			manifest: `[]`,
			layers:   map[string][]byte{"x/layer.tar": simpleLayer(t, "f")},
		},
		{
			name:     "empty layer list",
			manifest: `[{"Layers":[]}]`,
			layers:   map[string][]byte{"x/layer.tar": simpleLayer(t, "f")},
		},
		{
			name:     "layer not in archive",
			manifest: `[{"Layers":["missing/layer.tar"]}]`,
			layers:   map[string][]byte{"x/layer.tar": simpleLayer(t, "f")},
		},
		{
			name:     "duplicate layer",
			manifest: `[{"Layers":["x/layer.tar","x/layer.tar"]}]`,
			layers:   map[string][]byte{"x/layer.tar": simpleLayer(t, "f")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(bytes.NewReader(dockerArchive(t, tt.manifest, tt.layers)))
			if !errors.IsCode(err, errors.CodeManifestMalformed) {
				t.Errorf("err = %v, want manifest_malformed", err)
			}
		})
	}
}

func TestOpenLayerCompressed(t *testing.T) {
	plain := simpleLayer(t, "bin/sh", "etc/hosts")

	tests := []struct {
		name string
		blob []byte
	}{
		{"plain", plain},
		{"gzip", gzipBytes(t, plain)},
		{"zstd", zstdBytes(t, plain)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest := `[{"Layers":["l0/layer.tar"]}]`
			img, err := Open(bytes.NewReader(dockerArchive(t, manifest, map[string][]byte{
				"l0/layer.tar": tt.blob,
			})))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			stream, err := img.OpenLayer(0)
			if err != nil {
				t.Fatalf("OpenLayer: %v", err)
			}
			defer stream.Close()

			got := collectPaths(t, stream)
			want := []string{"bin/sh", "etc/hosts"}
			if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
				t.Errorf("entries = %v, want %v", got, want)
			}
		})
	}
}

func TestCorruptLayerIsFatal(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xff}, 1024)
	manifest := `[{"Layers":["bad/layer.tar"]}]`
	img, err := Open(bytes.NewReader(dockerArchive(t, manifest, map[string][]byte{
		"bad/layer.tar": garbage,
	})))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	stream, err := img.OpenLayer(0)
	if err != nil {
		t.Fatalf("OpenLayer: %v", err)
	}
	defer stream.Close()

	_, err = stream.Next()
	if !errors.IsCode(err, errors.CodeArchiveCorrupt) {
		t.Errorf("err = %v, want archive_corrupt", err)
	}
	if !errors.IsFatal(err) {
		t.Error("archive corruption must be fatal")
	}
}

func TestEntryRecordFields(t *testing.T) {
	modTime := time.Unix(1700000000, 0)
	layerData := buildTar(t, []tarFile{
		{hdr: &tar.Header{Name: "d", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: modTime}},
		{hdr: &tar.Header{Name: "d/f", Typeflag: tar.TypeReg, Mode: 0o640, Uid: 1000, Gid: 100, ModTime: modTime}, data: []byte("hello")},
		{hdr: &tar.Header{Name: "d/s", Typeflag: tar.TypeSymlink, Mode: 0o777, Linkname: "../target", ModTime: modTime}},
		{hdr: &tar.Header{Name: "d/h", Typeflag: tar.TypeLink, Mode: 0o640, Linkname: "d/f", ModTime: modTime}},
		{hdr: &tar.Header{Name: "d/p", Typeflag: tar.TypeFifo, Mode: 0o600, ModTime: modTime}},
	})

	manifest := `[{"Layers":["l/layer.tar"]}]`
	img, err := Open(bytes.NewReader(dockerArchive(t, manifest, map[string][]byte{"l/layer.tar": layerData})))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream, err := img.OpenLayer(0)
	if err != nil {
		t.Fatalf("OpenLayer: %v", err)
	}
	defer stream.Close()

	recs := make(map[string]*types.EntryRecord)
	for {
		rec, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		recs[rec.Path] = rec
	}

	if recs["d"].Kind != types.KindDirectory {
		t.Errorf("d kind = %v", recs["d"].Kind)
	}

	f := recs["d/f"]
	if f.Kind != types.KindRegular || f.Mode != 0o640 || f.UID != 1000 || f.GID != 100 {
		t.Errorf("regular file record = %+v", f)
	}
	if f.Size != 5 || f.Content.Length != 5 {
		t.Errorf("size/locator = %d/%d, want 5/5", f.Size, f.Content.Length)
	}
	if f.Content.Offset <= 0 {
		t.Errorf("content offset = %d, want positive", f.Content.Offset)
	}

	if s := recs["d/s"]; s.Kind != types.KindSymlink || s.Linkname != "../target" {
		t.Errorf("symlink record = %+v", s)
	}
	if h := recs["d/h"]; h.Kind != types.KindHardlink || h.Linkname != "d/f" {
		t.Errorf("hardlink record = %+v", h)
	}
	if p := recs["d/p"]; p.Kind != types.KindOther {
		t.Errorf("fifo kind = %v, want other", p.Kind)
	}
}

func TestEntryRecordPAXDeviceInode(t *testing.T) {
	layerData := buildTar(t, []tarFile{
		{
			hdr: &tar.Header{
				Name: "f", Typeflag: tar.TypeReg, Mode: 0o644,
				Format: tar.FormatPAX,
				PAXRecords: map[string]string{
					"SCHILY.dev": "64768",
					"SCHILY.ino": "131415",
				},
			},
			data: []byte("x"),
		},
	})

	manifest := `[{"Layers":["l/layer.tar"]}]`
	img, err := Open(bytes.NewReader(dockerArchive(t, manifest, map[string][]byte{"l/layer.tar": layerData})))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream, err := img.OpenLayer(0)
	if err != nil {
		t.Fatalf("OpenLayer: %v", err)
	}
	defer stream.Close()

	rec, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Dev != 64768 || rec.Ino != 131415 {
		t.Errorf("dev/ino = %d/%d, want 64768/131415", rec.Dev, rec.Ino)
	}
}

func TestOpenLayerOutOfRange(t *testing.T) {
	manifest := `[{"Layers":["l/layer.tar"]}]`
	img, err := Open(bytes.NewReader(dockerArchive(t, manifest, map[string][]byte{
		"l/layer.tar": simpleLayer(t, "f"),
	})))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := img.OpenLayer(5); err == nil {
		t.Error("OpenLayer(5) should fail")
	}
	if _, err := img.OpenLayer(-1); err == nil {
		t.Error("OpenLayer(-1) should fail")
	}
}

func TestAbbreviateLayerName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123def456/layer.tar", "abc123d"},
		{"short.tar", "short"},
		{"dir/deadbeefcafe.tar.gz", "deadbee"},
		{"blobs/sha256/" + strings.Repeat("f", 64), "fffffff"},
	}
	for _, tt := range tests {
		if got := types.AbbreviateLayerName(tt.in, 7); got != tt.want {
			t.Errorf("AbbreviateLayerName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
