package archive

import (
	"bytes"
	"encoding/json"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/bibin-skaria/imagetree/internal/errors"
)

// maxIndexDepth bounds nested OCI index resolution. Real archives nest at
// most once (index -> platform index -> manifest).
const maxIndexDepth = 3

// layersFromDockerManifest parses a docker-save manifest.json and returns
// the layer blob names in application order. Archives may describe several
// images; the first descriptor wins, matching what image loaders do.
func layersFromDockerManifest(data []byte) ([]string, error) {
	var m tarball.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewManifestMalformed("decoding manifest.json", err)
	}
	if len(m) == 0 {
		return nil, errors.NewManifestMalformed("manifest.json describes no images", nil)
	}
	return m[0].Layers, nil
}

// layersFromOCIIndex resolves an OCI image layout's index.json down to an
// image manifest and returns the layer blob names, as blobs/<alg>/<hex>
// paths relative to the archive root. fetch reads a named blob from the
// outer archive.
func layersFromOCIIndex(data []byte, fetch func(name string) ([]byte, error), depth int) ([]string, error) {
	if depth >= maxIndexDepth {
		return nil, errors.NewManifestMalformed("OCI index nesting too deep", nil)
	}

	index, err := v1.ParseIndexManifest(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewManifestMalformed("decoding OCI index", err)
	}
	if len(index.Manifests) == 0 {
		return nil, errors.NewManifestMalformed("OCI index lists no manifests", nil)
	}

	for _, desc := range index.Manifests {
		switch {
		case desc.MediaType.IsImage():
			blob, err := fetch(blobPath(desc.Digest))
			if err != nil {
				return nil, err
			}
			return layersFromImageManifest(blob)
		case desc.MediaType.IsIndex():
			blob, err := fetch(blobPath(desc.Digest))
			if err != nil {
				return nil, err
			}
			return layersFromOCIIndex(blob, fetch, depth+1)
		}
	}

	return nil, errors.NewManifestMalformed("OCI index has no image manifest", nil)
}

// layersFromImageManifest extracts the ordered layer digests of one OCI
// image manifest.
func layersFromImageManifest(data []byte) ([]string, error) {
	manifest, err := v1.ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewManifestMalformed("decoding OCI image manifest", err)
	}

	names := make([]string, len(manifest.Layers))
	for i, layer := range manifest.Layers {
		names[i] = blobPath(layer.Digest)
	}
	return names, nil
}

// blobPath maps a digest to its path inside an OCI layout archive.
func blobPath(h v1.Hash) string {
	return "blobs/" + h.Algorithm + "/" + h.Hex
}
