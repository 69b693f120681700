package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Doctor and Patient are owned by the surrounding system; scheduling only checks
// that they exist.
type Doctor struct {
	bun.BaseModel `bun:"table:doctors"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	FullName  string    `bun:"full_name,notnull"`
	Specialty string    `bun:"specialty,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type Patient struct {
	bun.BaseModel `bun:"table:patients"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	FullName  string    `bun:"full_name,notnull"`
	Email     string    `bun:"email,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
