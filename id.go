package substrate

import "github.com/xraph/substrate/id"

// ID is the identifier type for generated substrate entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
