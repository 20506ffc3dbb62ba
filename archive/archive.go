// Package archive reads container image archives (the tar file produced by
// an image-save operation) and exposes each layer as a lazy stream of entry
// records.
//
// The outer archive is scanned once to index the byte offset of every blob
// and to capture the layer-order descriptor. Both descriptor formats are
// supported: the docker-save manifest.json and the OCI image layout
// (index.json plus blobs/<algorithm>/<hex>). Layer content is never copied;
// a layer is opened by seeking back to its offset inside the outer tar.
package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/imagetree/internal/errors"
	"github.com/bibin-skaria/imagetree/internal/types"
)

const (
	manifestJSON = "manifest.json"
	ociIndexJSON = "index.json"

	// abbrevLen is the display length of abbreviated layer hashes.
	abbrevLen = 7
)

// blobLoc addresses one regular entry inside the outer archive.
type blobLoc struct {
	offset int64
	size   int64
}

// Image is an indexed image archive. It owns no resources of its own; the
// caller keeps the underlying reader open for the lifetime of the Image.
type Image struct {
	rd     io.ReadSeeker
	blobs  map[string]blobLoc
	layers []types.LayerRef
}

// Open scans the outer archive, locates the layer-order descriptor and
// returns an indexed Image. It fails with a manifest_missing error when no
// descriptor exists and with manifest_malformed when the descriptor cannot
// be resolved to an ordered, duplicate-free list of layer blobs present in
// the archive.
func Open(rd io.ReadSeeker) (*Image, error) {
	img := &Image{
		rd:    rd,
		blobs: make(map[string]blobLoc),
	}

	var manifestBytes, indexBytes []byte

	if _, err := rd.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	tr := tar.NewReader(rd)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewArchiveCorrupt("", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.ToSlash(filepath.Clean(hdr.Name))

		switch name {
		case manifestJSON:
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, errors.NewManifestMalformed("reading manifest.json", err)
			}
			manifestBytes = buf
			continue
		case ociIndexJSON:
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, errors.NewManifestMalformed("reading index.json", err)
			}
			indexBytes = buf
			continue
		}

		// The reader sits exactly at the start of this entry's content.
		here, err := rd.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		img.blobs[name] = blobLoc{offset: here, size: hdr.Size}
	}

	var (
		layerNames []string
		err        error
	)
	switch {
	case manifestBytes != nil:
		layerNames, err = layersFromDockerManifest(manifestBytes)
	case indexBytes != nil:
		layerNames, err = layersFromOCIIndex(indexBytes, img.readBlob, 0)
	default:
		return nil, errors.NewManifestMissing()
	}
	if err != nil {
		return nil, err
	}

	if len(layerNames) == 0 {
		return nil, errors.NewManifestMalformed("manifest lists no layers", nil)
	}

	seen := make(map[string]bool, len(layerNames))
	img.layers = make([]types.LayerRef, len(layerNames))
	for i, name := range layerNames {
		name = filepath.ToSlash(filepath.Clean(name))
		if seen[name] {
			return nil, errors.NewManifestMalformed("duplicate layer "+name, nil)
		}
		seen[name] = true
		if _, ok := img.blobs[name]; !ok {
			return nil, errors.NewManifestMalformed("layer "+name+" not found in archive", nil)
		}
		img.layers[i] = types.LayerRef{
			Name:  name,
			Index: i,
			Hash:  types.AbbreviateLayerName(name, abbrevLen),
		}
	}

	logrus.WithFields(logrus.Fields{
		"layers": len(img.layers),
		"blobs":  len(img.blobs),
	}).Debug("Indexed image archive")

	return img, nil
}

// Layers returns the layer references in application order. Index 0 is the
// base layer.
func (img *Image) Layers() []types.LayerRef {
	out := make([]types.LayerRef, len(img.layers))
	copy(out, img.layers)
	return out
}

// OpenLayer positions the archive at layer i's blob and returns an entry
// stream over it. Streams are single-pass; opening a layer invalidates any
// stream opened earlier, since they share the underlying reader.
func (img *Image) OpenLayer(i int) (*EntryStream, error) {
	if i < 0 || i >= len(img.layers) {
		return nil, errors.NewManifestMalformed("layer index out of range", nil)
	}
	layer := img.layers[i]
	loc := img.blobs[layer.Name]

	if _, err := img.rd.Seek(loc.offset, io.SeekStart); err != nil {
		return nil, err
	}

	return newEntryStream(io.LimitReader(img.rd, loc.size), layer)
}

// readBlob reads one blob of the outer archive into memory. Only descriptor
// blobs (manifests, indexes) are read this way; layer content never is.
func (img *Image) readBlob(name string) ([]byte, error) {
	loc, ok := img.blobs[name]
	if !ok {
		return nil, errors.NewManifestMalformed("blob "+name+" not found in archive", nil)
	}
	if _, err := img.rd.Seek(loc.offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, loc.size)
	if _, err := io.ReadFull(img.rd, buf); err != nil {
		return nil, errors.NewManifestMalformed("reading blob "+name, err)
	}
	return buf, nil
}

// hasGzipMagic and hasZstdMagic sniff the compression of a layer blob. OCI
// blob names carry no extension, so magic bytes are the only reliable signal.
func hasGzipMagic(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func hasZstdMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], []byte{0x28, 0xb5, 0x2f, 0xfd})
}
