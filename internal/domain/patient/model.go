package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type Kind string

const (
	KindRegular      Kind = "regular"
	KindNHIA         Kind = "nhia"
	KindRetainership Kind = "retainership"
	KindPrivate      Kind = "private"
)

var validKinds = map[Kind]bool{
	KindRegular: true, KindNHIA: true, KindRetainership: true, KindPrivate: true,
}

func (k Kind) Valid() bool { return validKinds[k] }

// Patient is the registration record the ledger needs; clinical demographics
// live in the records modules.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
