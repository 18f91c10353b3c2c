package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/backend/internal/services"
)

type LabelHandler struct {
	service *services.LabelService
}

func NewLabelHandler(service *services.LabelService) *LabelHandler {
	return &LabelHandler{service: service}
}

// GetLabel renders a QR shelf label for a book
// @Summary Book shelf label
// @Description Base64 PNG QR label encoding the book's identity for the issue desk scanner
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param bookId path int true "Book ID"
// @Success 200 {object} object{label=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /books/{bookId}/label [get]
func (h *LabelHandler) GetLabel(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	label, err := h.service.GenerateLabel(r.Context(), bookID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"label":   label,
	})
}
