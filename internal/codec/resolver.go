package codec

import "github.com/nyxwire/protolens/internal/descriptor"

// Resolver is the subset of registry.Registry the codec depends on.
// Decoupling from the concrete type keeps the codec testable against
// hand-built descriptor sets without a real registry.
type Resolver interface {
	FindMessage(name string) *descriptor.Message
	FindEnum(name string) *descriptor.Enum
}
