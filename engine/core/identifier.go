package core

import "github.com/google/uuid"

// Identifier uniquely names a backend instance, descriptor set or resource.
type Identifier = uuid.UUID

// NilIdentifier is the zero identifier; nothing is ever assigned it.
var NilIdentifier = uuid.Nil

// IdentifierAquireNewID returns a fresh random identifier.
func IdentifierAquireNewID() Identifier {
	return uuid.New()
}

// IdentifierParse parses the textual form produced by Identifier.String.
func IdentifierParse(s string) (Identifier, error) {
	return uuid.Parse(s)
}
