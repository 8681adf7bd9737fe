// Retrieval HTTP handlers: booking lookup by reference and voucher download.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/sysutil"
)

// RetrieveBooking godoc
// @ID          retrieveBooking
// @Summary     Look up a booking by reference
// @Description Network failures are retried with linear backoff; an upstream answer is returned as is.
// @Tags        Retrieval
// @Accept      json
// @Produce     json
// @Param       body  body  domain.ReferenceRequest  true  "Reference"
// @Success     200  {object}  domain.BookingStatus
// @Failure     400  {object}  handlers.ErrorResponse  "Missing reference fields"
// @Failure     502  {object}  handlers.ErrorResponse  "Upstream error"
// @Failure     503  {object}  handlers.ErrorResponse  "Upstream unreachable"
// @Router      /retrievals [post]
func (h *Handlers) RetrieveBooking(c *gin.Context) {
	var req domain.ReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	st, err := h.retrieval.Retrieve(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// DownloadVoucher godoc
// @ID          downloadVoucher
// @Summary     Download a booking voucher
// @Tags        Retrieval
// @Produce     application/pdf
// @Param       transactionId  path  string  true  "Itinerary transaction ID"
// @Success     200  {file}    file
// @Failure     502  {object}  handlers.ErrorResponse  "Upstream error"
// @Router      /vouchers/{transactionId} [get]
func (h *Handlers) DownloadVoucher(c *gin.Context) {
	tx := c.Param("transactionId")
	doc, err := h.retrieval.Voucher(c.Request.Context(), tx)
	if err != nil {
		failErr(c, err)
		return
	}
	name := sysutil.FirstNonEmpty(doc.Filename, "voucher-"+tx+".pdf")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, sysutil.FirstNonEmpty(doc.ContentType, "application/pdf"), doc.Data)
}
