package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
)

func (s *Server) CreateConsultationInvoices(c *gin.Context) {
	var req invoicedomain.CreateRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.PractitionerID = practitionerID(c)

	result, err := s.consultationInvoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListConsultationInvoices(c *gin.Context) {
	var req invoicedomain.ListRequest
	if err := s.bindQuery(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.PractitionerID = practitionerID(c)

	resp, err := s.consultationInvoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetConsultationInvoice(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.consultationInvoiceSvc.Get(c.Request.Context(), practitionerID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

type issueInvoiceRequest struct {
	DueInDays int `json:"due_in_days" validate:"omitempty,gte=1,lte=365"`
}

func (s *Server) IssueConsultationInvoice(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body issueInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := s.bindJSON(c, &body); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	invoice, err := s.consultationInvoiceSvc.Issue(c.Request.Context(), invoicedomain.IssueRequest{
		PractitionerID: practitionerID(c),
		ID:             id,
		DueInDays:      body.DueInDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) UpdateConsultationInvoice(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req invoicedomain.UpdateDraftRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.PractitionerID = practitionerID(c)
	req.ID = id

	invoice, err := s.consultationInvoiceSvc.UpdateDraft(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CancelConsultationInvoice(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.consultationInvoiceSvc.Cancel(c.Request.Context(), practitionerID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CreateConsultationCheckout(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.consultationInvoiceSvc.CreateCheckoutSession(c.Request.Context(), practitionerID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) ListInvoiceReminders(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// ownership check before exposing the queue
	if _, err := s.consultationInvoiceSvc.Get(c.Request.Context(), practitionerID(c), id); err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.reminderSvc.ListByInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
