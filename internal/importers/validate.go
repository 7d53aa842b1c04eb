package importers

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mrlokans/marginalia/internal/entities"
	"github.com/mrlokans/marginalia/internal/kindle"
)

const (
	maxTitleLength  = 512
	maxAuthorLength = 256
)

var validLocation = validation.By(func(value any) error {
	loc, _ := value.(*kindle.Location)
	if loc == nil {
		return nil
	}
	if loc.Start < 0 {
		return errors.New("must not be negative")
	}
	if loc.End != nil && *loc.End < loc.Start {
		return fmt.Errorf("end %d is before start %d", *loc.End, loc.Start)
	}
	return nil
})

// validateEntry checks a parsed entry before it reaches deduplication.
// Bookmarks may have no text; highlights and notes may not.
func validateEntry(e kindle.ParsedEntry) error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.Title, validation.Required, validation.RuneLength(1, maxTitleLength)),
		validation.Field(&e.Author, validation.RuneLength(0, maxAuthorLength)),
		validation.Field(&e.Type, validation.Required, validation.In(
			entities.EntryTypeHighlight,
			entities.EntryTypeNote,
			entities.EntryTypeBookmark,
		)),
		validation.Field(&e.Content, validation.When(e.Type != entities.EntryTypeBookmark, validation.Required)),
		validation.Field(&e.Page, validation.Min(0)),
		validation.Field(&e.Location, validLocation),
	)
	if err == nil {
		return nil
	}

	var fields validation.Errors
	if errors.As(err, &fields) {
		return &ValidationError{Block: e.Block, Fields: fields}
	}
	return err
}
