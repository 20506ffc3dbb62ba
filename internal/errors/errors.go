// Package errors defines the categorized error values shared by the archive
// reader and merge pipeline.
//
// Errors are split along the one axis that matters to callers: fatal errors
// (manifest missing/malformed, archive corrupt) halt the run, while
// recoverable per-entry problems never surface as errors at all - they are
// accumulated as types.Warning values alongside the merged tree.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a failure class from the error taxonomy.
type Code string

const (
	// CodeManifestMissing means the archive contains no layer-order
	// descriptor (neither manifest.json nor an OCI index).
	CodeManifestMissing Code = "manifest_missing"

	// CodeManifestMalformed means a descriptor was found but could not be
	// parsed into an ordered layer list.
	CodeManifestMalformed Code = "manifest_malformed"

	// CodeArchiveCorrupt means a layer's tar stream is structurally broken.
	// Layers already merged remain consistent, but the run cannot continue
	// because every later layer depends on this one.
	CodeArchiveCorrupt Code = "archive_corrupt"

	// CodeEntryPathInvalid marks a single entry whose path escapes the tree
	// root. The merge engine records it as a warning and keeps going.
	CodeEntryPathInvalid Code = "entry_path_invalid"
)

// ImageError is a categorized error with the operation and subject attached.
type ImageError struct {
	Code      Code   `json:"code"`
	Operation string `json:"operation,omitempty"`
	Subject   string `json:"subject,omitempty"` // path or layer name
	Message   string `json:"message"`
	Cause     error  `json:"-"`
}

// Error implements the error interface.
func (e *ImageError) Error() string {
	switch {
	case e.Subject != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s %s: %s: %v", e.Code, e.Operation, e.Subject, e.Message, e.Cause)
	case e.Subject != "":
		return fmt.Sprintf("%s: %s %s: %s", e.Code, e.Operation, e.Subject, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *ImageError) Unwrap() error {
	return e.Cause
}

// NewManifestMissing reports that no layer-order descriptor could be located.
func NewManifestMissing() *ImageError {
	return &ImageError{
		Code:      CodeManifestMissing,
		Operation: "read_manifest",
		Message:   "no manifest.json or OCI index found in archive",
	}
}

// NewManifestMalformed reports an unparseable or inconsistent descriptor.
func NewManifestMalformed(message string, cause error) *ImageError {
	return &ImageError{
		Code:      CodeManifestMalformed,
		Operation: "read_manifest",
		Message:   message,
		Cause:     cause,
	}
}

// NewArchiveCorrupt reports a structurally broken tar stream for a layer.
func NewArchiveCorrupt(layerName string, cause error) *ImageError {
	return &ImageError{
		Code:      CodeArchiveCorrupt,
		Operation: "read_layer",
		Subject:   layerName,
		Message:   "malformed tar stream",
		Cause:     cause,
	}
}

// NewEntryPathInvalid reports an entry whose path escapes the tree root.
func NewEntryPathInvalid(path string) *ImageError {
	return &ImageError{
		Code:      CodeEntryPathInvalid,
		Operation: "apply_entry",
		Subject:   path,
		Message:   "path escapes archive root",
	}
}

// IsCode reports whether err (or anything it wraps) is an ImageError with
// the given code.
func IsCode(err error, code Code) bool {
	var ie *ImageError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// IsFatal reports whether err should abort the whole run. Every ImageError
// except the per-entry codes is fatal; unknown errors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ie *ImageError
	if errors.As(err, &ie) {
		return ie.Code != CodeEntryPathInvalid
	}
	return true
}
