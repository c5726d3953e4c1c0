package delivery

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// ErrStatusChanged is returned by a repository when a guarded status update
// matched no row because the stored status differs from the expected one.
var ErrStatusChanged = errors.New("delivery note status changed concurrently")

func noteNotFound(id int64) error {
	return &shared.NotFoundError{Entity: "delivery note", ID: id}
}

func pickListNotFound(id int64) error {
	return &shared.NotFoundError{Entity: "pick list", ID: id}
}

func invalidNoteState(dn DeliveryNote, action Action) error {
	return &shared.InvalidStateError{
		Entity:    "delivery note",
		ID:        dn.ID,
		Current:   string(dn.Status),
		Attempted: string(action),
	}
}

func invalidPickListState(pl PickList, attempted string) error {
	return &shared.InvalidStateError{
		Entity:    "pick list",
		ID:        pl.ID,
		Current:   string(pl.Status),
		Attempted: attempted,
	}
}

func activePickListConflict(dn DeliveryNote, active PickList) error {
	return &shared.ConflictError{
		Resource: "pick list",
		ID:       active.ID,
		Reason: fmt.Sprintf("delivery note %s already has active pick list %s in status %s",
			dn.Number, active.Number, active.Status),
	}
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, ErrStatusChanged):
		return "invalid_state"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}

// isDomainError reports whether err is a caller-correctable rejection.
func isDomainError(err error) bool {
	return errorKind(err) != "internal"
}
