package reflection

import "github.com/nyxwire/protolens/internal/descriptor"

type fileInfo struct {
	name         string
	dependencies []string
}

// parseFileName peeks a raw FileDescriptorProto just far enough to learn
// its name and dependency edges, reusing the engine's own descriptor
// parser rather than a second ad hoc field walk.
func parseFileName(raw []byte) (fileInfo, error) {
	f, err := descriptor.ParseFile(raw)
	if err != nil {
		return fileInfo{}, err
	}
	return fileInfo{name: f.Name, dependencies: f.Dependencies}, nil
}
