package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ktiyab/coheara/internal/errs"
)

// statusForKind maps an internal failure kind to an HTTP status. Kinds not
// listed fall back to 500, matching errs.ToPatientError's own "treat as
// the most conservative category" default.
func statusForKind(k errs.Kind) int {
	switch k {
	case errs.KindInvalidArgument, errs.KindInputTooShort:
		return http.StatusBadRequest
	case errs.KindImportUnsupported, errs.KindImportEncryptedPdf, errs.KindImportFileTooLarge, errs.KindImportDuplicate:
		return http.StatusUnprocessableEntity
	case errs.KindNotReachable, errs.KindModelNotFound, errs.KindNoModelAvailable, errs.KindOllamaError:
		return http.StatusServiceUnavailable
	case errs.KindPairingError, errs.KindSafetyViolation:
		return http.StatusForbidden
	case errs.KindSyncError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into the PatientError JSON shape (spec §6.4)
// at the status its Kind maps to, aborting the request.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ce *errs.CoreError
	if errors.As(err, &ce) {
		status = statusForKind(ce.Kind)
	}
	c.AbortWithStatusJSON(status, errs.ToPatientError(err))
}
