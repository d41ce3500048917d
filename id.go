package conduit

import "github.com/leftonspace/conduit/id"

// ID is the primary identifier type for all conduit entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
