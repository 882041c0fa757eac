package models

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
)

// VisitInput is a commercial visit as submitted by a front end.
type VisitInput struct {
	Direction  string `json:"direction" col:"Direction" validate:"required"`
	ClientName string `json:"client_name" col:"ClientName" validate:"required"`
	Phone      string `json:"phone" col:"Phone" validate:"required"`
	Service    string `json:"service" col:"Service" validate:"required"`
	ReferredBy string `json:"referred_by" col:"ReferredBy"`
}

// MailingInput is a mailing-list contact as submitted by a front end.
type MailingInput struct {
	ClientName     string `json:"client_name" col:"ClientName" validate:"required"`
	StudyPlace     string `json:"study_place" col:"StudyPlace"`
	VkLink         string `json:"vk_link" col:"VkLink"`
	MailingConsent string `json:"mailing_consent" col:"MailingConsent" validate:"required,oneof=Yes No"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// ошибки называют поля так же, как колонки файла
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("col"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// ValidateInput checks struct tags and translates failures into the
// package's error taxonomy.
func ValidateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate input: %w", err)
	}

	var missing []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return ErrInvalidConsent
}

// NewVisit validates in and builds a commercial row stamped with now.
// Nothing is returned on error, so callers never hold a partial row.
func NewVisit(in VisitInput, now time.Time, normalize Normalizer) (Visit, error) {
	if normalize == nil {
		normalize = RawIdentity
	}
	in.ClientName, in.Phone = normalize(in.ClientName, in.Phone)

	if err := ValidateInput(in); err != nil {
		return Visit{}, err
	}
	direction, err := ParseDirection(in.Direction)
	if err != nil {
		return Visit{}, err
	}
	price, err := LookupPrice(in.Service)
	if err != nil {
		return Visit{}, err
	}

	referrer := ""
	if direction == DirectionStudy {
		referrer = in.ReferredBy
	}

	date := FormatDate(now)
	return Visit{
		VisitID:    VisitID(date, in.ClientName, in.Phone),
		ClientID:   ClientID(in.ClientName, in.Phone),
		Date:       date,
		Direction:  direction,
		ClientName: in.ClientName,
		Phone:      in.Phone,
		Service:    in.Service,
		Price:      price,
		ReferredBy: referrer,
	}, nil
}

// NewMailingContact builds a Mailing row. Mailing rows carry no phone, so
// the client id is derived from the name and an empty phone.
func NewMailingContact(in MailingInput, now time.Time, normalize Normalizer) (Visit, error) {
	if normalize == nil {
		normalize = RawIdentity
	}
	in.ClientName, _ = normalize(in.ClientName, "")

	if err := ValidateInput(in); err != nil {
		return Visit{}, err
	}

	date := FormatDate(now)
	return Visit{
		VisitID:        VisitID(date, in.ClientName, ""),
		ClientID:       ClientID(in.ClientName, ""),
		Date:           date,
		Direction:      DirectionMailing,
		ClientName:     in.ClientName,
		Price:          0,
		StudyPlace:     in.StudyPlace,
		VkLink:         in.VkLink,
		MailingConsent: in.MailingConsent,
	}, nil
}

// Table is the in-memory, insertion-ordered record store.
type Table struct {
	Visits []Visit
}

func NewTable(visits ...Visit) *Table {
	return &Table{Visits: visits}
}

func (t *Table) Len() int {
	return len(t.Visits)
}

// Snapshot returns a copy that later mutations of t do not affect.
func (t *Table) Snapshot() []Visit {
	out := make([]Visit, len(t.Visits))
	copy(out, t.Visits)
	return out
}

// Append adds v at the end, filling missing identifiers from its fields.
// Repeated client ids are expected: they are repeat visits.
func (t *Table) Append(v Visit) Visit {
	if v.ClientID == "" {
		v.ClientID = ClientID(v.ClientName, v.Phone)
	}
	if v.VisitID == "" {
		v.VisitID = VisitID(v.Date, v.ClientName, v.Phone)
	}
	t.Visits = append(t.Visits, v)
	return v
}

// UpsertByClient is the legacy one-row-per-client mode: when rows with v's
// client id exist, the first one gets the commercial fields of v and updated
// is true; otherwise v is appended. Further rows of that client, left by
// append mode, are removed and returned in dropped.
func (t *Table) UpsertByClient(v Visit) (stored Visit, dropped []Visit, updated bool) {
	if v.ClientID == "" {
		v.ClientID = ClientID(v.ClientName, v.Phone)
	}

	found := -1
	kept := t.Visits[:0]
	for _, row := range t.Visits {
		if row.ClientID != v.ClientID {
			kept = append(kept, row)
			continue
		}
		if found >= 0 {
			dropped = append(dropped, row)
			continue
		}
		row.Date = v.Date
		row.Direction = v.Direction
		row.Service = v.Service
		row.Price = v.Price
		row.ReferredBy = v.ReferredBy
		found = len(kept)
		kept = append(kept, row)
	}
	for i := len(kept); i < len(t.Visits); i++ {
		t.Visits[i] = Visit{}
	}
	t.Visits = kept

	if found < 0 {
		return t.Append(v), nil, false
	}
	return t.Visits[found], dropped, true
}

// AppendVisit validates in, prices it and appends it with raw identity.
func (t *Table) AppendVisit(in VisitInput, now time.Time) (Visit, error) {
	v, err := NewVisit(in, now, RawIdentity)
	if err != nil {
		return Visit{}, err
	}
	return t.Append(v), nil
}

func (t *Table) AppendMailingContact(in MailingInput, now time.Time) (Visit, error) {
	v, err := NewMailingContact(in, now, RawIdentity)
	if err != nil {
		return Visit{}, err
	}
	return t.Append(v), nil
}

// DeleteWhere removes every matching row and returns the removed rows.
func (t *Table) DeleteWhere(match func(Visit) bool) []Visit {
	var removed []Visit
	kept := t.Visits[:0]
	for _, v := range t.Visits {
		if match(v) {
			removed = append(removed, v)
			continue
		}
		kept = append(kept, v)
	}
	// хвост обнуляем, чтобы не держать удалённые строки
	for i := len(kept); i < len(t.Visits); i++ {
		t.Visits[i] = Visit{}
	}
	t.Visits = kept
	return removed
}

// DeleteClients removes every row whose name is in names, mailing rows included.
func (t *Table) DeleteClients(names []string) []Visit {
	set := toSet(names)
	return t.DeleteWhere(func(v Visit) bool {
		_, ok := set[v.ClientName]
		return ok
	})
}

// DeleteMailingContacts removes Mailing rows whose name is in names.
func (t *Table) DeleteMailingContacts(names []string) []Visit {
	set := toSet(names)
	return t.DeleteWhere(func(v Visit) bool {
		_, ok := set[v.ClientName]
		return ok && v.IsMailing()
	})
}

// ByClient returns the rows of one client in store order.
func (t *Table) ByClient(clientID string) []Visit {
	var out []Visit
	for _, v := range t.Visits {
		if v.ClientID == clientID {
			out = append(out, v)
		}
	}
	return out
}

// FindClientByName resolves a display name to a row, preferring the first
// commercial row over a mailing contact of the same name.
func (t *Table) FindClientByName(name string) (Visit, bool) {
	var fallback *Visit
	for i := range t.Visits {
		v := t.Visits[i]
		if v.ClientName != name {
			continue
		}
		if !v.IsMailing() {
			return v, true
		}
		if fallback == nil {
			fallback = &t.Visits[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Visit{}, false
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
