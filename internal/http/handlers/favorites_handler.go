package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// AddFavoriteRequest carries the display fields kept with a favorite.
type AddFavoriteRequest struct {
	ProviderName string   `json:"providerName"`
	Name         string   `json:"name"`
	StarRating   *float64 `json:"starRating,omitempty"`
}

// ListFavoritesResponse wraps the user's favorites, newest first.
type ListFavoritesResponse struct {
	Favorites []domain.Favorite `json:"favorites"`
}

// ListFavorites godoc
// @ID          listFavorites
// @Summary     List favorite hotels
// @Tags        Favorites
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Success     200  {object}  handlers.ListFavoritesResponse
// @Router      /favorites [get]
func (h *Handlers) ListFavorites(c *gin.Context) {
	favs, err := h.favorites.List(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if favs == nil {
		favs = []domain.Favorite{}
	}
	ok(c, http.StatusOK, ListFavoritesResponse{Favorites: favs})
}

// AddFavorite godoc
// @ID          addFavorite
// @Summary     Mark a hotel as favorite
// @Description Re-adding keeps the original timestamp.
// @Tags        Favorites
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       hotelId    path    string  true  "Hotel ID"
// @Param       body       body    handlers.AddFavoriteRequest  false  "Display fields"
// @Success     200  {object}  domain.Favorite
// @Router      /favorites/{hotelId} [put]
func (h *Handlers) AddFavorite(c *gin.Context) {
	var req AddFavoriteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	f, err := h.favorites.Add(c.Request.Context(), userID(c), domain.Favorite{
		HotelID:      c.Param("hotelId"),
		ProviderName: req.ProviderName,
		Name:         req.Name,
		StarRating:   req.StarRating,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, f)
}

// RemoveFavorite godoc
// @ID          removeFavorite
// @Summary     Remove a favorite hotel
// @Tags        Favorites
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       hotelId    path    string  true  "Hotel ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Not a favorite"
// @Router      /favorites/{hotelId} [delete]
func (h *Handlers) RemoveFavorite(c *gin.Context) {
	if err := h.favorites.Remove(c.Request.Context(), userID(c), c.Param("hotelId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
