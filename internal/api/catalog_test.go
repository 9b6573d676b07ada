package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/americaniron/ironfreight/internal/api"
	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = &api.Principal{Subject: "admin-1", Role: api.RoleAdmin}

func TestCatalog_PublicReads(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/catalog/equipment?category=EXCAVATORS", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Equipment []catalog.Equipment `json:"equipment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Equipment)
	for _, e := range resp.Equipment {
		assert.Equal(t, "EXCAVATORS", e.Category)
	}

	rec = f.do(t, http.MethodGet, "/api/catalog/parts/8N0990", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"part_number":"8N0990"`)

	rec = f.do(t, http.MethodGet, "/api/catalog/parts/NOPE", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/catalog/copy", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "homeHeroTitle")
}

func TestCatalog_MutationsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	part := catalog.Part{PartNumber: "4N6638", Description: "Water Pump Pulley"}

	rec := f.do(t, http.MethodPost, "/api/catalog/parts", part, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/catalog/parts", part, buyer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/catalog/parts", part, admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	_, err := f.catalog.PartByNumber("4N6638")
	assert.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/catalog/parts", part, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCatalog_AdminEdits(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/catalog/equipment/114811", `{"price":"$340,000"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	e, err := f.catalog.EquipmentByID("114811")
	require.NoError(t, err)
	assert.Equal(t, "$340,000", e.Price)

	rec = f.do(t, http.MethodDelete, "/api/catalog/equipment/114811", nil, admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/catalog/copy", `{"aboutMission":"Move iron."}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Move iron.", f.catalog.Copy().AboutMission)

	rec = f.do(t, http.MethodPost, "/api/catalog/categories", catalog.Category{Name: "PIPELAYERS"}, admin)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/catalog/categories/NOPE", nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
