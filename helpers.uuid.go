package main

import (
	"strings"

	"github.com/gofrs/uuid"
)

var _ UIDHandler = (*IDsHandler)(nil)

// UIDHandler builds and checks the prefixed identifiers used for
// books ("b:<uuid>"), users ("u:<uuid>") and requests ("r:<uuid>").
type UIDHandler interface {
	Generate(prefix string) string
	IsValid(id, prefix string) bool
}

// NameGenerator produces collision-resistant names for stored files.
type NameGenerator func() string

// IDsHandler implements UIDHandler on top of random v4 uuids.
type IDsHandler struct{}

func NewIDsHandler() *IDsHandler {
	return &IDsHandler{}
}

// Generate returns a new identifier carrying the given prefix.
func (idh *IDsHandler) Generate(prefix string) string {
	return prefix + ":" + idh.Name()
}

// Name returns a bare random uuid. It never contains a path
// separator so it is used as-is for image file names.
func (idh *IDsHandler) Name() string {
	return uuid.Must(uuid.NewV4()).String()
}

// IsValid reports whether id is the prefix followed by a v4 uuid.
func (idh *IDsHandler) IsValid(id, prefix string) bool {
	raw, found := strings.CutPrefix(id, prefix+":")
	if !found {
		return false
	}
	u, err := uuid.FromString(raw)
	if err != nil {
		return false
	}
	return u.Version() == uuid.V4
}
