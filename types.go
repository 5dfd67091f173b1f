package rescache

import (
	"path"

	"github.com/google/uuid"

	"github.com/hupe1980/rescache/blobstore"
)

// Type identifies a kind of resource, such as "Graphics.Texture". It selects
// the Factory and the converters for a request.
type Type string

// namespace for NameID.
var nameSpace = uuid.MustParse("5f0a3c1e-8d2b-5b8e-9c4f-2a6e7d1b0c93")

// NameID returns the stable identifier of a logical resource name. It only
// depends on the cleaned name, never on file contents.
func NameID(name string) uuid.UUID {
	return uuid.NewSHA1(nameSpace, []byte(blobstore.CleanName(name)))
}

const (
	convertedExt = ".converted"
	metadataExt  = ".metadata"
)

// ArtifactPath returns the store name of the compiled artifact of name below dir.
func ArtifactPath(dir, name string) string {
	return path.Join(dir, blobstore.CleanName(name)) + convertedExt
}

// MetadataPath returns the sidecar name of a resolved source file.
func MetadataPath(source string) string {
	return source + metadataExt
}

// fileType returns the extension of name without the leading dot.
func fileType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return ext[1:]
}
