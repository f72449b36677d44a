package creditledger

import "github.com/xraph/creditledger/id"

// ID is the primary identifier type for all CreditLedger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
