package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/blobstore"
	"github.com/ehr/claims/pkg/pagination"
)

// Generator runs claim generation for an encounter.
type Generator interface {
	Generate(ctx context.Context, encounterID uuid.UUID) (*InsuranceClaim, error)
}

type Handler struct {
	svc       *Service
	generator Generator
}

func NewHandler(svc *Service, generator Generator) *Handler {
	return &Handler{svc: svc, generator: generator}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing, viewer
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleViewer))
	readGroup.GET("/claims", h.ListClaims)
	readGroup.GET("/claims/statistics", h.ClaimStatistics)
	readGroup.GET("/claims/:id", h.GetClaim)
	readGroup.GET("/claims/:id/edi", h.GetClaimEDI)
	readGroup.GET("/code-mappings", h.ListCodeMappings)
	readGroup.GET("/code-mappings/statistics", h.CodeMappingStatistics)
	readGroup.GET("/code-mappings/:id", h.GetCodeMapping)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	writeGroup.POST("/claims/generate/:encounterId", h.GenerateClaim)
	writeGroup.PUT("/claims/:id/status", h.UpdateClaimStatus)
	writeGroup.PUT("/claims/:id/submission-status", h.UpdateSubmissionStatus)
	writeGroup.POST("/claims/:id/clearinghouse-response", h.RecordClearinghouseResponse)
	writeGroup.POST("/claims/:id/payer-response", h.RecordPayerResponse)
	writeGroup.POST("/code-mappings", h.CreateCodeMapping)
	writeGroup.PUT("/code-mappings/:id", h.UpdateCodeMapping)
	writeGroup.DELETE("/code-mappings/:id", h.DeleteCodeMapping)

	// Administrative override – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.PUT("/claims/:id/status/override", h.OverrideClaimStatus)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Claim Handlers --

func (h *Handler) GenerateClaim(c echo.Context) error {
	encounterID, err := parseID(c, "encounterId")
	if err != nil {
		return err
	}
	claim, err := h.generator.Generate(c.Request().Context(), encounterID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	claim, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) GetClaimEDI(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	content, err := h.svc.ClaimEDI(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, blobstore.ContentTypeX12, content)
}

func (h *Handler) ListClaims(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ClaimFilter{
		Status:           ClaimStatus(c.QueryParam("status")),
		SubmissionStatus: SubmissionStatus(c.QueryParam("submission_status")),
	}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if v := c.QueryParam("encounter_id"); v != "" {
		eid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter_id")
		}
		f.EncounterID = &eid
	}
	if v := c.QueryParam("claim_number"); v != "" {
		claim, err := h.svc.GetClaimByNumber(c.Request().Context(), v)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse([]*InsuranceClaim{claim}, 1, pg))
	}
	items, total, err := h.svc.ListClaims(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c.Request().URL))
}

func (h *Handler) ClaimStatistics(c echo.Context) error {
	stats, err := h.svc.ClaimStatistics(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) bindStatus(c echo.Context) (uuid.UUID, string, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return uuid.Nil, "", err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == "" {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	return id, req.Status, nil
}

func (h *Handler) UpdateClaimStatus(c echo.Context) error {
	id, status, err := h.bindStatus(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.TransitionClaimStatus(c.Request().Context(), id, ClaimStatus(status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) OverrideClaimStatus(c echo.Context) error {
	id, status, err := h.bindStatus(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.OverrideClaimStatus(c.Request().Context(), id, ClaimStatus(status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) UpdateSubmissionStatus(c echo.Context) error {
	id, status, err := h.bindStatus(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.UpdateSubmissionStatus(c.Request().Context(), id, SubmissionStatus(status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) RecordClearinghouseResponse(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req ClearinghouseResponse
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.RecordClearinghouseResponse(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) RecordPayerResponse(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req PayerResponse
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.RecordPayerResponse(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

// -- Code Mapping Handlers --

func (h *Handler) CreateCodeMapping(c echo.Context) error {
	var m CodeMapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.ID = uuid.Nil
	if err := h.svc.CreateCodeMapping(c.Request().Context(), &m); err != nil {
		return mappingError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetCodeMapping(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.GetCodeMapping(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListCodeMappings(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := CodeMappingFilter{
		EncounterType: c.QueryParam("encounter_type"),
		CPTCode:       c.QueryParam("cpt"),
		ICD10Code:     c.QueryParam("icd10"),
		ActiveOnly:    c.QueryParam("active") == "true",
	}
	items, total, err := h.svc.ListCodeMappings(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c.Request().URL))
}

func (h *Handler) UpdateCodeMapping(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var m CodeMapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.ID = id
	if err := h.svc.UpdateCodeMapping(c.Request().Context(), &m); err != nil {
		return mappingError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteCodeMapping(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateCodeMapping(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CodeMappingStatistics(c echo.Context) error {
	stats, err := h.svc.CodeMappingStatistics(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// mappingError reports validation failures as 400 and defers the rest to
// httpError.
func mappingError(err error) error {
	if Kind(err) == KindInternal {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return httpError(err)
}
