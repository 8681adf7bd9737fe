// Search HTTP handlers.
//
// This file exposes REST endpoints for live hotel searches:
//   - POST   /searches                                          (start)
//   - GET    /searches/{id}                                     (status + visible window)
//   - GET    /searches/{id}/feed                                (pull the next chunk)
//   - POST   /searches/{id}/more                                (extend the window)
//   - POST   /searches/{id}/refresh-rates                       (rate-only refresh)
//   - DELETE /searches/{id}                                     (close)
//   - GET    /searches/{id}/hotels/{hotelId}                    (hotel detail)
//   - GET    /searches/{id}/hotels/{hotelId}/price/{provider}/{rec} (resolve price)
//   - POST   /searches/{id}/prices                              (resolve several prices)
package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/search"
	"github.com/tbourn/go-stay-booking/internal/services"
	"github.com/tbourn/go-stay-booking/internal/sysutil"
	"github.com/tbourn/go-stay-booking/internal/utils"
)

//
// DTOs
//

// StartSearchRequest is the JSON payload for starting a search. The optional
// filter is forwarded upstream as filterdata.
type StartSearchRequest struct {
	domain.Criteria
	Filter search.Filter `json:"filter"`
}

// SearchResponse is a snapshot of a search. Error is set when polling ended
// with a failure; the results merged before it stay readable.
type SearchResponse struct {
	*services.SearchView
	Error *ErrorResponse `json:"error,omitempty"`
}

// FeedResponse is one chunk pulled from the results feed.
type FeedResponse struct {
	Hotels  []domain.HotelResult `json:"hotels"`
	Cursor  int                  `json:"cursor"`
	HasMore bool                 `json:"hasMore"`
}

// PriceResponse is the outcome of a price resolve. On failure Price holds
// the last known indicative price and PriceError is set.
type PriceResponse struct {
	Offer      services.OfferKey `json:"offer"`
	Price      domain.Price      `json:"price"`
	PriceError bool              `json:"priceError"`
	Error      *ErrorResponse    `json:"error,omitempty"`
}

// ResolvePricesRequest lists the offers of one search to price.
type ResolvePricesRequest struct {
	Offers []services.OfferKey `json:"offers"`
}

//
// Helpers
//

// searchQuery parses the sort and filter query parameters. An empty sort
// keeps the merged base order.
func searchQuery(c *gin.Context) (services.SearchQuery, bool) {
	q := services.SearchQuery{
		Sort: search.SortMode(strings.TrimSpace(c.Query("sort"))),
		Filter: search.Filter{
			MinPrice:        utils.FloatDefault(c.Query("minPrice"), 0),
			MaxPrice:        utils.FloatDefault(c.Query("maxPrice"), 0),
			Stars:           utils.FloatsCSV(c.Query("stars")),
			MinReview:       utils.FloatDefault(c.Query("minReview"), 0),
			MaxDistance:     utils.FloatDefault(c.Query("maxDistance"), 0),
			RecommendedOnly: sysutil.IsTruthy(c.Query("recommended")),
			Name:            strings.TrimSpace(c.Query("name")),
		},
	}
	return q, q.Sort == "" || q.Sort.Valid()
}

func priceResponse(k services.OfferKey, p domain.Price, err error) PriceResponse {
	r := PriceResponse{Offer: k, Price: p}
	if err != nil {
		_, env, _ := classify(err)
		r.PriceError, r.Error = true, &env
	}
	return r
}

//
// Handlers
//

// StartSearch godoc
// @ID          startSearch
// @Summary     Start a hotel search
// @Description Initiates an upstream search and polls it in the background until it completes, fails, or hits the poll ceiling.
// @Tags        Searches
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.StartSearchRequest  true  "Search criteria"
// @Success     202  {object}  domain.SearchSession
// @Failure     400  {object}  handlers.ErrorResponse  "Missing or invalid criteria"
// @Failure     502  {object}  handlers.ErrorResponse  "Upstream error"
// @Failure     503  {object}  handlers.ErrorResponse  "Upstream unreachable"
// @Router      /searches [post]
func (h *Handlers) StartSearch(c *gin.Context) {
	var req StartSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sess, err := h.searches.Start(c.Request.Context(), req.Criteria, req.Filter)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, sess)
}

// GetSearch godoc
// @ID          getSearch
// @Summary     Search status and visible results
// @Description Returns the search status and the visible window of the sorted, filtered results.
// @Description When polling ended in an error the partial results are still returned with an error envelope.
// @Tags        Searches
// @Produce     json
// @Param       id           path   string   true   "Search ID"
// @Param       sort         query  string   false  "Sort mode"  Enums(price-low, price-high, rating, review, distance, recommended)
// @Param       minPrice     query  number   false  "Minimum total price"
// @Param       maxPrice     query  number   false  "Maximum total price"
// @Param       stars        query  string   false  "Comma-separated star ratings"  example(4,5)
// @Param       minReview    query  number   false  "Minimum review rating"
// @Param       maxDistance  query  number   false  "Maximum distance"
// @Param       recommended  query  bool     false  "Recommended only"
// @Param       name         query  string   false  "Hotel name contains"
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown sort mode"
// @Failure     404  {object}  handlers.ErrorResponse  "Search not found"
// @Router      /searches/{id} [get]
func (h *Handlers) GetSearch(c *gin.Context) {
	q, valid := searchQuery(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown sort mode")
		return
	}
	v, err := h.searches.Snapshot(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := SearchResponse{SearchView: v}
	if v.Err != nil {
		_, env, _ := classify(v.Err)
		env.RequestID = c.Writer.Header().Get("X-Request-ID")
		resp.Error = &env
	}
	ok(c, http.StatusOK, resp)
}

// SearchFeed godoc
// @ID          searchFeed
// @Summary     Pull the next results
// @Description Returns up to n results after cursor. The visible window is extended automatically once fewer than the watermark remain.
// @Tags        Searches
// @Produce     json
// @Param       id      path   string  true   "Search ID"
// @Param       cursor  query  int     false  "Results already consumed"  default(0)
// @Param       n       query  int     false  "Chunk size"                default(10)
// @Success     200  {object}  handlers.FeedResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Search not found"
// @Router      /searches/{id}/feed [get]
func (h *Handlers) SearchFeed(c *gin.Context) {
	q, valid := searchQuery(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown sort mode")
		return
	}
	cursor := utils.IntInRange(c.Query("cursor"), 0, 0, math.MaxInt)
	n := utils.IntInRange(c.Query("n"), 10, 1, 100)

	feed, err := h.searches.Feed(c.Param("id"), q, h.watermark)
	if err != nil {
		failErr(c, err)
		return
	}
	if cursor > 0 {
		feed.Next(cursor)
	}
	items, more := feed.Next(n)
	if items == nil {
		items = []domain.HotelResult{}
	}
	ok(c, http.StatusOK, FeedResponse{Hotels: items, Cursor: feed.Consumed(), HasMore: more})
}

// LoadMore extends the visible window by one page.
// @ID          loadMoreResults
// @Summary     Extend the visible window
// @Tags        Searches
// @Produce     json
// @Param       id  path  string  true  "Search ID"
// @Success     200  {object}  search.Window
// @Failure     404  {object}  handlers.ErrorResponse  "Search not found"
// @Router      /searches/{id}/more [post]
func (h *Handlers) LoadMore(c *gin.Context) {
	w, err := h.searches.LoadMore(c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

// RefreshRates godoc
// @ID          refreshRates
// @Summary     Refresh rates of a completed search
// @Tags        Searches
// @Produce     json
// @Param       id  path  string  true  "Search ID"
// @Success     200  {object}  map[string]int  "Number of updated results"
// @Failure     404  {object}  handlers.ErrorResponse  "Search not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Search not complete"
// @Router      /searches/{id}/refresh-rates [post]
func (h *Handlers) RefreshRates(c *gin.Context) {
	n, err := h.searches.RefreshRates(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"updated": n})
}

// CloseSearch godoc
// @ID          closeSearch
// @Summary     Close a search
// @Tags        Searches
// @Param       id  path  string  true  "Search ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Search not found"
// @Router      /searches/{id} [delete]
func (h *Handlers) CloseSearch(c *gin.Context) {
	id := c.Param("id")
	if err := h.searches.Close(id); err != nil {
		failErr(c, err)
		return
	}
	h.prices.Forget(id)
	noContent(c)
}

// HotelDetail godoc
// @ID          hotelDetail
// @Summary     Hotel content and rooms
// @Description The price provider defaults to the provider of the hotel's first result in the search.
// @Tags        Searches
// @Produce     json
// @Param       id        path   string  true   "Search ID"
// @Param       hotelId   path   string  true   "Hotel ID"
// @Param       provider  query  string  false  "Price provider"
// @Success     200  {object}  domain.HotelDetail
// @Failure     404  {object}  handlers.ErrorResponse  "Hotel not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Upstream error"
// @Router      /searches/{id}/hotels/{hotelId} [get]
func (h *Handlers) HotelDetail(c *gin.Context) {
	id, hotelID := c.Param("id"), c.Param("hotelId")
	provider := strings.TrimSpace(c.Query("provider"))
	if provider == "" {
		if res, err := h.searches.FindHotel(id, hotelID); err == nil {
			provider = res.ProviderName
		}
	}
	d, err := h.prices.Details(c.Request.Context(), id, hotelID, provider)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ResolvePrice godoc
// @ID          resolvePrice
// @Summary     Resolve the authoritative price of an offer
// @Description On upstream failure the response carries the last known indicative price, priceError=true and the error envelope.
// @Tags        Prices
// @Produce     json
// @Param       id        path  string  true  "Search ID"
// @Param       hotelId   path  string  true  "Hotel ID"
// @Param       provider  path  string  true  "Provider name"
// @Param       rec       path  string  true  "Recommendation ID"
// @Success     200  {object}  handlers.PriceResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing offer fields"
// @Failure     502  {object}  handlers.PriceResponse  "Upstream error"
// @Router      /searches/{id}/hotels/{hotelId}/price/{provider}/{rec} [get]
func (h *Handlers) ResolvePrice(c *gin.Context) {
	k := services.OfferKey{
		SearchID:         c.Param("id"),
		HotelID:          c.Param("hotelId"),
		ProviderName:     c.Param("provider"),
		RecommendationID: c.Param("rec"),
	}
	if res, err := h.searches.Hotel(k.SearchID, domain.HotelKey{HotelID: k.HotelID, ProviderName: k.ProviderName}); err == nil {
		h.prices.Remember(k, res.Rate)
	}
	p, err := h.prices.Resolve(c.Request.Context(), k)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			failErr(c, err)
			return
		}
		status, _, retry := classify(err)
		if retry {
			c.Header("Retry-After", retryAfterSeconds)
		}
		resp := priceResponse(k, p, err)
		resp.Error.RequestID = c.Writer.Header().Get("X-Request-ID")
		middleware.SetErrorCode(c, resp.Error.Code)
		ok(c, status, resp)
		return
	}
	ok(c, http.StatusOK, priceResponse(k, p, nil))
}

// ResolvePrices resolves several offers of one search. Each offer fails on
// its own; the response is always 200 with per-offer outcomes.
// @ID          resolvePrices
// @Summary     Resolve several prices
// @Tags        Prices
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Search ID"
// @Param       body  body  handlers.ResolvePricesRequest  true  "Offers"
// @Success     200  {array}   handlers.PriceResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid body"
// @Router      /searches/{id}/prices [post]
func (h *Handlers) ResolvePrices(c *gin.Context) {
	var req ResolvePricesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Offers) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "offers required")
		return
	}
	id := c.Param("id")
	for i := range req.Offers {
		k := &req.Offers[i]
		k.SearchID = id
		if res, err := h.searches.Hotel(id, domain.HotelKey{HotelID: k.HotelID, ProviderName: k.ProviderName}); err == nil {
			h.prices.Remember(*k, res.Rate)
		}
	}
	out := make([]PriceResponse, 0, len(req.Offers))
	for _, r := range h.prices.ResolveMany(c.Request.Context(), req.Offers) {
		out = append(out, priceResponse(r.Key, r.Price, r.Err))
	}
	ok(c, http.StatusOK, out)
}
