package license

import "strings"

// ProductBaseName is the product name shared by every edition
const ProductBaseName = "Synergy 1"

// Edition represents the product tier unlocked by a serial key
type Edition int

const (
	EditionUnregistered Edition = iota
	EditionPersonal
	EditionPro
	EditionBusiness
)

// Product names shown to the user for each edition
const (
	PersonalProductName = ProductBaseName + " Personal"
	ProProductName      = ProductBaseName + " Pro"
	BusinessProductName = ProductBaseName + " Business"
)

// parseEdition maps the edition field of a serial key to an Edition
func parseEdition(s string) (Edition, bool) {
	switch strings.ToLower(s) {
	case "basic", "personal":
		return EditionPersonal, true
	case "pro":
		return EditionPro, true
	case "business":
		return EditionBusiness, true
	default:
		return EditionUnregistered, false
	}
}

// String returns the edition identifier used in logs and API responses
func (e Edition) String() string {
	switch e {
	case EditionPersonal:
		return "personal"
	case EditionPro:
		return "pro"
	case EditionBusiness:
		return "business"
	default:
		return "unregistered"
	}
}

// ProductName returns the user facing product name for the edition
func (e Edition) ProductName() string {
	switch e {
	case EditionPersonal:
		return PersonalProductName
	case EditionPro:
		return ProProductName
	case EditionBusiness:
		return BusinessProductName
	default:
		return ProductBaseName
	}
}

func (e Edition) tlsAvailable() bool {
	return e == EditionPro || e == EditionBusiness
}

func (e Edition) businessFeaturesAvailable() bool {
	return e == EditionBusiness
}
