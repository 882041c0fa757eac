package models

import (
	"sort"
	"time"
)

// DateLayout is the on-disk timestamp format, second precision.
const DateLayout = "2006-01-02 15:04:05"

type Direction string

const (
	DirectionStudy    Direction = "Study"
	DirectionProducts Direction = "Products"
	DirectionFlowers  Direction = "Flowers"
	DirectionMail     Direction = "Mail"
	DirectionChop     Direction = "Chop"
	DirectionRandom   Direction = "Random"
	// DirectionMailing marks a contact-only row with no commercial value.
	DirectionMailing Direction = "Mailing"
)

// CommercialDirections lists the revenue-bearing directions in display order.
var CommercialDirections = []Direction{
	DirectionStudy,
	DirectionProducts,
	DirectionFlowers,
	DirectionMail,
	DirectionChop,
	DirectionRandom,
}

func (d Direction) IsCommercial() bool {
	for _, c := range CommercialDirections {
		if c == d {
			return true
		}
	}
	return false
}

func (d Direction) IsKnown() bool {
	return d == DirectionMailing || d.IsCommercial()
}

// ParseDirection accepts only the commercial directions; mailing contacts
// have their own entry point.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if !d.IsCommercial() {
		return "", &UnknownDirectionError{Direction: s}
	}
	return d, nil
}

// ServicePrices is the fixed price list. It is not editable at runtime.
var ServicePrices = map[string]int{
	"Haircut":           900,
	"Beard":             500,
	"VIP":               500,
	"Waxing 1":          200,
	"Waxing 2":          300,
	"Nishman care mask": 1000,
	"Haircut+beard":     1400,
	"Kids":              800,
	"Clipper cut":       900,
}

// LookupPrice returns the price of a service from ServicePrices.
func LookupPrice(service string) (int, error) {
	price, ok := ServicePrices[service]
	if !ok {
		return 0, &UnknownServiceError{Service: service}
	}
	return price, nil
}

// ServiceNames returns the price list keys sorted alphabetically.
func ServiceNames() []string {
	names := make([]string, 0, len(ServicePrices))
	for name := range ServicePrices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Consent values of a mailing contact.
const (
	ConsentYes = "Yes"
	ConsentNo  = "No"
)

// Visit is one row of the store: a paid service or a mailing-contact registration.
// The gorm tags are used only by the relational mirror.
type Visit struct {
	VisitID        string    `json:"visit_id" gorm:"primaryKey;size:32"`
	ClientID       string    `json:"client_id" gorm:"size:32;index;not null"`
	Date           string    `json:"date" gorm:"size:19;index;not null"`
	Direction      Direction `json:"direction" gorm:"size:32;index;not null"`
	ClientName     string    `json:"client_name" gorm:"not null"`
	Phone          string    `json:"phone"`
	Service        string    `json:"service"`
	Price          int       `json:"price" gorm:"not null"`
	ReferredBy     string    `json:"referred_by"`
	StudyPlace     string    `json:"study_place"`
	VkLink         string    `json:"vk_link"`
	MailingConsent string    `json:"mailing_consent"`
}

func (Visit) TableName() string {
	return "visits"
}

func (v Visit) IsMailing() bool {
	return v.Direction == DirectionMailing
}

// Time parses Date in the given location.
func (v Visit) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, v.Date, loc)
}

// Month returns the YYYY-MM prefix of Date.
func (v Visit) Month() string {
	if len(v.Date) < 7 {
		return ""
	}
	return v.Date[:7]
}

// FormatDate renders t the way Date is stored.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
