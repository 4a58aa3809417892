package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/compliance"
)

// Constitution returns the currently published version and hash.
func (h *Handler) Constitution(c echo.Context) error {
	return c.JSON(http.StatusOK, h.gate.Constitution())
}

func (h *Handler) ConstitutionReport(c echo.Context) error {
	return c.JSON(http.StatusOK, h.coord.ConstitutionReport())
}

// ComplianceStatus evaluates the gate for a founder and returns the record.
func (h *Handler) ComplianceStatus(c echo.Context) error {
	id := c.Param("id")
	st, err := h.gate.CheckCompliance(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err, nil)
	}
	resp := echo.Map{"founder_id": id, "status": st}
	if r, ok := h.gate.Record(id); ok {
		resp["record"] = r
		if !r.LastAttestation.IsZero() {
			resp["attestation_expires_at"] = h.gate.ExpiresAt(r)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type attestBody struct {
	ConstitutionHash string `json:"constitution_hash"`
}

func (h *Handler) Attest(c echo.Context) error {
	var body attestBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	id := c.Param("id")
	r, err := h.gate.Attest(c.Request().Context(), id, body.ConstitutionHash)
	if err != nil {
		return h.fail(c, err, nil)
	}
	h.appendAudit(c, audit.ActionAttestation, id, echo.Map{
		"constitution_version": r.ConstitutionVersion,
		"constitution_hash":    body.ConstitutionHash,
	})
	return c.JSON(http.StatusOK, echo.Map{"record": r, "expires_at": h.gate.ExpiresAt(r)})
}

// RecordFica stores an external FICA outcome. A failed verification is
// still recorded and audited.
func (h *Handler) RecordFica(c echo.Context) error {
	var body compliance.FicaResult
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	id := c.Param("id")
	r, err := h.gate.RecordFicaVerification(c.Request().Context(), id, body)
	if r.FounderID != "" {
		h.appendAudit(c, audit.ActionFicaVerification, id, echo.Map{
			"verified":  body.Verified,
			"status":    r.FicaStatus,
			"reference": body.Reference,
		})
	}
	if err != nil {
		return h.fail(c, err, echo.Map{"record": r})
	}
	return c.JSON(http.StatusOK, echo.Map{"record": r})
}

type violationBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) RecordViolation(c echo.Context) error {
	var body violationBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	id := c.Param("id")
	r, err := h.gate.RecordViolation(c.Request().Context(), id, body.Reason)
	if err != nil {
		return h.fail(c, err, nil)
	}
	h.appendAudit(c, audit.ActionViolationRecorded, id, echo.Map{"reason": body.Reason})
	return c.JSON(http.StatusCreated, echo.Map{"record": r})
}

func (h *Handler) ClearViolations(c echo.Context) error {
	id := c.Param("id")
	r, err := h.gate.ClearViolations(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err, nil)
	}
	by, _ := c.Get("user_id").(string)
	h.appendAudit(c, audit.ActionViolationsCleared, id, echo.Map{"cleared_by": by})
	return c.JSON(http.StatusOK, echo.Map{"record": r})
}

func (h *Handler) AuditLog(c echo.Context) error {
	entries := h.audit.Entries()
	resp := echo.Map{
		"entries":     entries,
		"count":       len(entries),
		"chain_valid": true,
		"unpersisted": h.audit.Pending(),
	}
	if err := audit.VerifyChain(entries); err != nil {
		resp["chain_valid"] = false
		resp["chain_error"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) FounderAudit(c echo.Context) error {
	entries := h.audit.ForFounder(c.Param("founderId"))
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries, "count": len(entries)})
}
