package classify

import (
	"strings"

	"github.com/noah-isme/tale-download-api/internal/models"
)

var legacyUnitAliases = map[string]models.UnitType{
	"LOC":    models.UnitTypeCommercial,
	"LOCAL":  models.UnitTypeCommercial,
	"TIENDA": models.UnitTypeCommercial,
	"OFIC":   models.UnitTypeCommercial,
	"ESTAC":  models.UnitTypeParking,
	"UNIDAD": models.UnitTypeOther,
}

// unitTypeRules are evaluated in order; the first matching substring wins.
// Parking precedes storage so "estacionamiento con depósito" stays EST.
var unitTypeRules = []struct {
	needles []string
	code    models.UnitType
}{
	{[]string{"local comercial"}, models.UnitTypeCommercial},
	{[]string{"departamento"}, models.UnitTypeApartment},
	{[]string{"estacionamiento"}, models.UnitTypeParking},
	{[]string{"depósito", "deposito"}, models.UnitTypeStorage},
	{[]string{"gabinete"}, models.UnitTypeCabinet},
}

// HomologateUnitType maps free text to exactly one canonical unit type.
func HomologateUnitType(raw string) models.UnitType {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.UnitTypeNoData
	}

	upper := strings.ToUpper(trimmed)
	for _, code := range models.UnitTypes {
		if upper == string(code) {
			return code
		}
	}
	if code, ok := legacyUnitAliases[upper]; ok {
		return code
	}

	lower := strings.ToLower(trimmed)
	for _, rule := range unitTypeRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.code
			}
		}
	}
	return models.UnitTypeOther
}

// unitCodePrefixes infer a type from the unit code suffix when the warehouse
// has no unit type text. Longer prefixes go first.
var unitCodePrefixes = []struct {
	prefix string
	code   models.UnitType
}{
	{"GAB", models.UnitTypeCabinet},
	{"DEP", models.UnitTypeStorage},
	{"LC", models.UnitTypeCommercial},
	{"E", models.UnitTypeParking},
	{"D", models.UnitTypeStorage},
}

// ResolveUnitType prefers the homologated raw text and falls back to the unit code shape.
func ResolveUnitType(unitCode string, raw *string) models.UnitType {
	if raw != nil && strings.TrimSpace(*raw) != "" {
		return HomologateUnitType(*raw)
	}
	suffix := strings.ToUpper(strings.TrimSpace(unitCode))
	if idx := strings.LastIndex(suffix, "-"); idx >= 0 {
		suffix = suffix[idx+1:]
	}
	if suffix == "" {
		return models.UnitTypeNoData
	}
	if isDigits(suffix) {
		return models.UnitTypeApartment
	}
	for _, p := range unitCodePrefixes {
		rest := strings.TrimPrefix(suffix, p.prefix)
		if rest != suffix && isDigits(rest) {
			return p.code
		}
	}
	return models.UnitTypeNoData
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
