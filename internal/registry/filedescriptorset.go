package registry

import (
	"fmt"

	"github.com/nyxwire/protolens/internal/descriptor"
	"github.com/nyxwire/protolens/internal/wire"
)

// parseFileDescriptorSet parses a FileDescriptorSet's wire bytes
// (repeated FileDescriptorProto file = 1) into individual File descriptors,
// one per entry, in declaration order.
func parseFileDescriptorSet(data []byte) ([]*descriptor.File, error) {
	r := wire.NewReader(data)
	var files []*descriptor.File
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return nil, fmt.Errorf("read tag: %w", err)
		}
		if tag.FieldNumber != 1 {
			if err := r.SkipField(tag.WireType); err != nil {
				return nil, fmt.Errorf("skip field %d: %w", tag.FieldNumber, err)
			}
			continue
		}
		entry, err := r.ReadLengthDelimited()
		if err != nil {
			return nil, fmt.Errorf("read file entry: %w", err)
		}
		f, err := descriptor.ParseFile(entry)
		if err != nil {
			return nil, fmt.Errorf("parse file entry: %w", err)
		}
		files = append(files, f)
	}
	return files, nil
}
