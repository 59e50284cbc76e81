package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "candidate not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// examErrStatusCode maps domain sentinel errors to HTTP status codes.
func examErrStatusCode(err error) (int, bool) {
	switch err {
	case exam.ErrExamNotFound, exam.ErrSessionNotFound:
		return http.StatusNotFound, true
	case exam.ErrExamNotOpen, exam.ErrExamClosed, exam.ErrInvitationExpired, exam.ErrAttemptsExhausted:
		return http.StatusForbidden, true
	case exam.ErrSessionCompleted, exam.ErrSessionNotActive, exam.ErrSessionNotCompleted, exam.ErrSessionExamMismatch:
		return http.StatusConflict, true
	case exam.ErrConfigRequired:
		return http.StatusBadRequest, true
	case exam.ErrSubmissionFailed:
		// scoring collaborator kept failing; session stays active for a manual retry
		return http.StatusBadGateway, true
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		if c, ok := examErrStatusCode(errors.Cause(err)); ok {
			code = c
			message = errors.Cause(err).Error()
		} else {
			switch origErr := errors.Cause(err).(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(origErr))
				for _, vErr := range origErr {
					fldErrs[vErr.Field()] = vErr.Translate(translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					fldErrs := make(map[string]string, len(origErr.Fields))
					for _, fErr := range origErr.Fields {
						fldErrs[fErr.Field] = fErr.Error
					}
					message = fldErrs
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var candidateID string
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					candidateID = claims.Subject
				}
				logger.Error(msg, errors.Wrap(err, msg), candidateID)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
