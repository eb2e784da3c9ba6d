package claimexport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claimexport/internal/platform/auth"
)

// Export response headers.
const (
	HeaderBatchID     = "X-Export-Batch-ID"
	HeaderClaimCount  = "X-Export-Claim-Count"
	HeaderSkipped     = "X-Export-Skipped"
	HeaderReviewFlags = "X-Export-Review-Flags"
	HeaderWarning     = "X-Export-Warning"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/claims/837p", auth.RequireRole("billing", "physician"))
	g.POST("/export", h.Export)
}

// Export generates one 837P batch for the period in the start and end query
// parameters and returns it as a text/plain download.
func (h *Handler) Export(c echo.Context) error {
	req, err := exportRequestFromContext(c)
	if err != nil {
		return err
	}

	result, err := h.svc.Export(c.Request().Context(), req)
	if err != nil {
		return exportError(c, err)
	}

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, `attachment; filename="`+result.FileName+`"`)
	hdr.Set(HeaderBatchID, result.BatchID.String())
	hdr.Set(HeaderClaimCount, strconv.Itoa(result.ClaimCount()))
	hdr.Set(HeaderSkipped, strconv.Itoa(len(result.Skipped)))
	hdr.Set(HeaderReviewFlags, strconv.Itoa(len(result.ReviewFlags)))
	if result.MarkerWarning != nil {
		hdr.Set(HeaderWarning, result.MarkerWarning.Message)
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, []byte(result.Text))
}

func exportRequestFromContext(c echo.Context) (ExportRequest, error) {
	start, err := parseDate(c.QueryParam("start"), "start")
	if err != nil {
		return ExportRequest{}, err
	}
	end, err := parseDate(c.QueryParam("end"), "end")
	if err != nil {
		return ExportRequest{}, err
	}

	ctx := c.Request().Context()
	req := ExportRequest{
		ActorID:     auth.UserIDFromContext(ctx),
		PeriodStart: start,
		PeriodEnd:   end,
	}

	roles := auth.RolesFromContext(ctx)
	switch {
	case hasRole(roles, "admin", "billing"):
		req.Scope = ScopeAll
	case hasRole(roles, "physician"):
		pid, err := uuid.Parse(auth.PhysicianIDFromContext(ctx))
		if err != nil {
			return ExportRequest{}, echo.NewHTTPError(http.StatusForbidden, "physician token carries no valid physician_id")
		}
		req.Scope = ScopePhysician
		req.PhysicianID = pid
	default:
		return ExportRequest{}, echo.NewHTTPError(http.StatusForbidden, "role not permitted to export claims")
	}

	if err := req.Validate(); err != nil {
		return ExportRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

func exportError(c echo.Context, err error) error {
	var nothing *NothingToExportError
	var selErr *SelectionError
	var buildErr *BuildError
	switch {
	case errors.As(err, &nothing):
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "nothing_to_export",
			"period":  nothing.Period,
			"skipped": nothing.Skipped,
		})
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &selErr):
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"error":          "encounter selection failed",
			"period":         selErr.Period,
			"intended_count": selErr.IntendedCount,
		})
	case errors.As(err, &buildErr):
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]interface{}{
			"error":    "claim batch could not be built",
			"batch_id": buildErr.BatchID.String(),
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseDate(v, name string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" is required (YYYY-MM-DD)")
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+" date: "+v)
	}
	return t, nil
}

func hasRole(roles []string, want ...string) bool {
	for _, r := range roles {
		for _, w := range want {
			if r == w {
				return true
			}
		}
	}
	return false
}
