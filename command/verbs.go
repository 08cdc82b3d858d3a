package command

import "strings"

// Verb identifies the family of a Command
type Verb int

const (
	VerbFind Verb = iota
	VerbAggregate
	VerbInsert
	VerbUpdate
	VerbDelete
	VerbCount
	VerbDistinct
	VerbCreateCollection
	VerbDropCollection
	VerbRenameCollection
	VerbCollStats
	VerbCreateIndex
	VerbDropIndex
	VerbListIndexes
	VerbHideIndex
	VerbWatch
	VerbAdminCommand
	VerbReplSetCommand
)

var verbNames = map[Verb]string{
	VerbFind:             "find",
	VerbAggregate:        "aggregate",
	VerbInsert:           "insert",
	VerbUpdate:           "update",
	VerbDelete:           "delete",
	VerbCount:            "count",
	VerbDistinct:         "distinct",
	VerbCreateCollection: "createCollection",
	VerbDropCollection:   "dropCollection",
	VerbRenameCollection: "renameCollection",
	VerbCollStats:        "collStats",
	VerbCreateIndex:      "createIndex",
	VerbDropIndex:        "dropIndex",
	VerbListIndexes:      "listIndexes",
	VerbHideIndex:        "hideIndex",
	VerbWatch:            "watch",
	VerbAdminCommand:     "adminCommand",
	VerbReplSetCommand:   "replSetCommand",
}

// String returns the string representation of Verb
func (v Verb) String() string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return "unknown"
}

// ParseVerb parses a verb name case-insensitively
func ParseVerb(s string) (Verb, bool) {
	s = strings.TrimSpace(s)
	for v, name := range verbNames {
		if strings.EqualFold(name, s) {
			return v, true
		}
	}
	return 0, false
}

// IsWrite reports whether commands of this verb modify data or schema
func (v Verb) IsWrite() bool {
	switch v {
	case VerbInsert, VerbUpdate, VerbDelete, VerbCreateCollection, VerbDropCollection,
		VerbRenameCollection, VerbCreateIndex, VerbDropIndex, VerbHideIndex:
		return true
	}
	return false
}

// UpdateMode selects the shell method an Update was written with
type UpdateMode int

const (
	UpdateOne UpdateMode = iota
	UpdateMany
	ReplaceOne
	FindOneAndUpdate
	FindOneAndReplace
)

// String returns the shell method name of the mode
func (m UpdateMode) String() string {
	switch m {
	case UpdateOne:
		return "updateOne"
	case UpdateMany:
		return "updateMany"
	case ReplaceOne:
		return "replaceOne"
	case FindOneAndUpdate:
		return "findOneAndUpdate"
	case FindOneAndReplace:
		return "findOneAndReplace"
	default:
		return "updateOne"
	}
}

// IsReplacement reports whether the mode takes a replacement document
func (m UpdateMode) IsReplacement() bool {
	return m == ReplaceOne || m == FindOneAndReplace
}

// ReturnsDocument reports whether the mode resolves to the affected document
func (m UpdateMode) ReturnsDocument() bool {
	return m == FindOneAndUpdate || m == FindOneAndReplace
}

// DeleteMode selects the shell method a Delete was written with
type DeleteMode int

const (
	DeleteOne DeleteMode = iota
	DeleteMany
	FindOneAndDelete
)

// String returns the shell method name of the mode
func (m DeleteMode) String() string {
	switch m {
	case DeleteOne:
		return "deleteOne"
	case DeleteMany:
		return "deleteMany"
	case FindOneAndDelete:
		return "findOneAndDelete"
	default:
		return "deleteOne"
	}
}

// CountMode selects the shell method a Count was written with
type CountMode int

const (
	CountDocuments CountMode = iota
	EstimatedDocumentCount
	CountLegacy
)

// String returns the shell method name of the mode
func (m CountMode) String() string {
	switch m {
	case CountDocuments:
		return "countDocuments"
	case EstimatedDocumentCount:
		return "estimatedDocumentCount"
	case CountLegacy:
		return "count"
	default:
		return "countDocuments"
	}
}

// ReplSetAction selects how the executor runs a replica set helper
type ReplSetAction int

const (
	// ReplSetRun runs the helper's command document as is
	ReplSetRun ReplSetAction = iota
	// ReplSetAddMember adds a member through replSetGetConfig/replSetReconfig
	ReplSetAddMember
	// ReplSetRemoveMember removes a member through replSetGetConfig/replSetReconfig
	ReplSetRemoveMember
)
