package api

import (
	"encoding/json"
	"net/http"

	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) listEquipment(w http.ResponseWriter, r *http.Request) {
	items := h.catalog.Equipment()
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := make([]catalog.Equipment, 0, len(items))
		for _, e := range items {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		items = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"equipment": nonNil(items)})
}

func (h *Handler) getEquipment(w http.ResponseWriter, r *http.Request) {
	e, err := h.catalog.EquipmentByID(chi.URLParam(r, "id"))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) addEquipment(w http.ResponseWriter, r *http.Request) {
	var e catalog.Equipment
	if !decodeJSON(w, r, &e) {
		return
	}
	if err := h.catalog.AddEquipment(r.Context(), e); err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) updateEquipment(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}
	e, err := h.catalog.UpdateEquipment(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) deleteEquipment(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteEquipment(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCatalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listParts(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"parts": nonNil(h.catalog.Parts())})
}

func (h *Handler) getPart(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.PartByNumber(chi.URLParam(r, "partNumber"))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) addPart(w http.ResponseWriter, r *http.Request) {
	var p catalog.Part
	if !decodeJSON(w, r, &p) {
		return
	}
	if err := h.catalog.AddPart(r.Context(), p); err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) updatePart(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}
	p, err := h.catalog.UpdatePart(r.Context(), chi.URLParam(r, "partNumber"), patch)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePart(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeletePart(r.Context(), chi.URLParam(r, "partNumber")); err != nil {
		writeCatalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"categories": nonNil(h.catalog.Categories())})
}

func (h *Handler) addCategory(w http.ResponseWriter, r *http.Request) {
	var c catalog.Category
	if !decodeJSON(w, r, &c) {
		return
	}
	if err := h.catalog.AddCategory(r.Context(), c); err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}
	c, err := h.catalog.UpdateCategory(r.Context(), chi.URLParam(r, "name"), patch)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCategory(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeCatalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getCopy(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.catalog.Copy())
}

func (h *Handler) updateCopy(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}
	c, err := h.catalog.UpdateCopy(r.Context(), patch)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
