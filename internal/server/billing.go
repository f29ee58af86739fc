package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	accountdomain "github.com/smallbiznis/clinicledger/internal/connectedaccount/domain"
	platforminvoicedomain "github.com/smallbiznis/clinicledger/internal/platforminvoice/domain"
)

func (s *Server) ListBillingHistory(c *gin.Context) {
	var req historydomain.ListRequest
	if err := s.bindQuery(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	invoiceID, err := parseOptionalSnowflakeID(c.Query("invoice_id"))
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice_id"))
		return
	}
	req.PractitionerID = practitionerID(c)
	req.InvoiceID = invoiceID

	resp, err := s.historySvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReminderSettings(c *gin.Context) {
	settings, err := s.settingsSvc.Get(c.Request.Context(), nil, practitionerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) UpdateReminderSettings(c *gin.Context) {
	var req settingsdomain.UpdateRemindersRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.PractitionerID = practitionerID(c)

	settings, err := s.settingsSvc.UpdateReminders(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) StartOnboarding(c *gin.Context) {
	var req accountdomain.StartOnboardingInput
	if c.Request.ContentLength > 0 {
		if err := s.bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	req.PractitionerID = practitionerID(c)

	link, err := s.accountSvc.StartOnboarding(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": link.URL, "expires_at": link.ExpiresAt})
}

func (s *Server) RefreshConnectedAccount(c *gin.Context) {
	settings, err := s.accountSvc.Refresh(c.Request.Context(), practitionerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.GetActive(c.Request.Context(), practitionerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListPlatformInvoices(c *gin.Context) {
	var req platforminvoicedomain.ListRequest
	if err := s.bindQuery(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.PractitionerID = practitionerID(c)

	resp, err := s.platformInvoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
