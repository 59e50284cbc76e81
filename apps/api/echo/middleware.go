package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/exam"
)

const contextSessionKey = "session"

// GuardVerdict is the route-guard contract with the exam UI: whenever IsValid
// is false the UI navigates to RedirectTo instead of rendering the route.
// Validation errors always fail closed into an invalid verdict.
type GuardVerdict struct {
	IsValid    bool           `json:"is_valid"`
	Session    *exam.Session  `json:"session,omitempty"`
	Live       *exam.Snapshot `json:"live,omitempty"` // hot state for rehydration, when cached
	RedirectTo string         `json:"redirect_to,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// guardActive admits only the owner of a running session. The validated
// session is stashed in the context for the handler.
func guardActive(svc exam.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			s, err := svc.ValidateActive(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
			if err != nil {
				return err
			}
			ctx.Set(contextSessionKey, s)
			return next(ctx)
		}
	}
}

// guardCompleted admits only the owner of a completed session.
func guardCompleted(svc exam.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			s, err := svc.ValidateCompleted(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
			if err != nil {
				return err
			}
			ctx.Set(contextSessionKey, s)
			return next(ctx)
		}
	}
}

func getContextSession(ctx echo.Context) (exam.Session, error) {
	if s, ok := ctx.Get(contextSessionKey).(exam.Session); ok {
		return s, nil
	}
	return exam.Session{}, errHttpForbidden
}

// guardRedirect picks where the UI sends the candidate when a session route
// fails validation.
func guardRedirect(s exam.Session, err error) string {
	switch errors.Cause(err) {
	case exam.ErrSessionCompleted:
		return "/sessions/" + s.ID + "/results"
	case exam.ErrSessionNotFound, exam.ErrSessionNotCompleted:
		return "/dashboard"
	}
	if s.ExamID != "" {
		return "/exams/" + s.ExamID
	}
	return "/dashboard"
}
