package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tale-download-api/internal/models"
)

func strPtr(s string) *string { return &s }

func TestHomologateUnitType(t *testing.T) {
	cases := []struct {
		raw  string
		want models.UnitType
	}{
		{"", models.UnitTypeNoData},
		{"   ", models.UnitTypeNoData},
		{"departamento", models.UnitTypeApartment},
		{"  DEPARTAMENTO duplex ", models.UnitTypeApartment},
		{"departamento loft", models.UnitTypeApartment},
		{"estacionamiento", models.UnitTypeParking},
		{"estacionamiento moto", models.UnitTypeParking},
		{"estacionamiento con depósito", models.UnitTypeParking},
		{"estacionamiento con deposito", models.UnitTypeParking},
		{"depósito", models.UnitTypeStorage},
		{"DEPÓSITO", models.UnitTypeStorage},
		{"deposito", models.UnitTypeStorage},
		{"Local Comercial", models.UnitTypeCommercial},
		{"gabinete", models.UnitTypeCabinet},
		{"oficina", models.UnitTypeOther},
		{"xyz123", models.UnitTypeOther},
		{"LOC", models.UnitTypeCommercial},
		{"local", models.UnitTypeCommercial},
		{"TIENDA", models.UnitTypeCommercial},
		{"OFIC", models.UnitTypeCommercial},
		{"ESTAC", models.UnitTypeParking},
		{"UNIDAD", models.UnitTypeOther},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, HomologateUnitType(tc.raw), "raw=%q", tc.raw)
	}
}

func TestHomologateUnitTypeIsIdempotentOnCanonicalCodes(t *testing.T) {
	for _, code := range models.UnitTypes {
		require.Equal(t, code, HomologateUnitType(string(code)))
		require.Equal(t, code, HomologateUnitType(string(HomologateUnitType(string(code)))))
		require.Contains(t, models.UnitTypeLabels, code)
	}
	require.Equal(t, models.UnitTypeParking, HomologateUnitType("est"))
}

func TestHomologateUnitTypeIsTotal(t *testing.T) {
	valid := make(map[models.UnitType]bool, len(models.UnitTypes))
	for _, code := range models.UnitTypes {
		valid[code] = true
	}
	inputs := []string{"", "\t", "ñandú", "LOCAL COMERCIAL 2", "123", "dpto", "Estacionamiento-Depósito", "💡", "gab"}
	for _, raw := range inputs {
		require.True(t, valid[HomologateUnitType(raw)], "raw=%q", raw)
	}
}

func TestResolveUnitType(t *testing.T) {
	require.Equal(t, models.UnitTypeApartment, ResolveUnitType("PAINO-E123", strPtr("departamento loft")))
	require.Equal(t, models.UnitTypeParking, ResolveUnitType("PAINO-E123", nil))
	require.Equal(t, models.UnitTypeApartment, ResolveUnitType("PAINO-305", nil))
	require.Equal(t, models.UnitTypeStorage, ResolveUnitType("PAINO-DEP12", strPtr("  ")))
	require.Equal(t, models.UnitTypeCabinet, ResolveUnitType("GAB7", nil))
	require.Equal(t, models.UnitTypeNoData, ResolveUnitType("", nil))
	require.Equal(t, models.UnitTypeNoData, ResolveUnitType("PAINO-X1", nil))
}
