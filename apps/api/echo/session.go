package echoapi

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/proctor"
)

type sessionApi struct {
	svc        exam.ServiceInterface
	registry   *proctor.Registry
	conf       *core.Config
	validate   *validator.Validate
	translator ut.Translator
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := sessionApi{
		svc:        deps.ExamSvc,
		registry:   deps.Registry,
		conf:       deps.Conf,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	eg := g.Group("/exams/:exam", jwt)
	eg.GET("/access", api.checkAccess)
	eg.GET("/instructions", api.instructions)
	eg.GET("/active-session", api.activeSession)
	eg.POST("/sessions", api.start)

	sg := g.Group("/sessions/:id", jwt)
	sg.GET("", api.validateSession)
	sg.GET("/results", api.results, guardCompleted(api.svc))

	ag := sg.Group("", guardActive(api.svc))
	ag.POST("/submit", api.submit)
	ag.POST("/abandon", api.abandon)
	ag.GET("/time", api.remainingTime)
	ag.POST("/violations", api.trackViolation)
	ag.GET("/signals", api.signals)
}

// Bindings

type violationRequest struct {
	Type exam.ViolationType `json:"type" validate:"required"`
	Meta map[string]string  `json:"meta,omitempty"`
}

type violationResponse struct {
	ViolationCount int `json:"violation_count"`
}

type timeResponse struct {
	RemainingSec int       `json:"remaining_sec"`
	ServerTime   time.Time `json:"server_time"`
}

// Handlers

func (api *sessionApi) checkAccess(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	ex, err := api.svc.CheckAccess(ctx.Request().Context(), ctx.Param("exam"), claims.Subject, ctx.QueryParam("invitation"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ex)
}

func (api *sessionApi) instructions(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	instructions, err := api.svc.Instructions(ctx.Request().Context(), ctx.Param("exam"), claims.Subject, ctx.QueryParam("invitation"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, instructions)
}

func (api *sessionApi) activeSession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	s, err := api.svc.ActiveSession(ctx.Request().Context(), ctx.Param("exam"), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) start(ctx echo.Context) error {
	var data exam.StartSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	s, err := api.svc.Start(ctx.Request().Context(), ctx.Param("exam"), claims.Subject, data)
	if err != nil {
		return err
	}

	// monitoring binds the moment the session turns active; the runtime must
	// outlive this request
	if _, err = api.registry.Attach(context.Background(), s); err != nil {
		return errors.Wrap(err, "attaching session runtime")
	}
	return ctx.JSON(http.StatusCreated, s)
}

// validateSession is the route-guard endpoint: it never 4xxs on an invalid
// session, it answers with a redirect verdict instead.
func (api *sessionApi) validateSession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	s, err := api.svc.ValidateActive(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		if _, ok := examErrStatusCode(errors.Cause(err)); ok {
			return ctx.JSON(http.StatusOK, GuardVerdict{
				IsValid:    false,
				RedirectTo: guardRedirect(s, err),
				Message:    errors.Cause(err).Error(),
			})
		}
		return err
	}

	if wantExam := ctx.QueryParam("exam"); wantExam != "" && wantExam != s.ExamID {
		return ctx.JSON(http.StatusOK, GuardVerdict{
			IsValid:    false,
			RedirectTo: guardRedirect(s, exam.ErrSessionExamMismatch),
			Message:    exam.ErrSessionExamMismatch.Error(),
		})
	}

	if _, err = api.registry.Attach(context.Background(), s); err != nil {
		return errors.Wrap(err, "attaching session runtime")
	}

	verdict := GuardVerdict{IsValid: true, Session: &s}
	// best-effort: a cache miss just means the client rebuilds from the session
	if snap, err := api.svc.LiveSnapshot(ctx.Request().Context(), s.ID); err == nil {
		verdict.Live = &snap
	}
	return ctx.JSON(http.StatusOK, verdict)
}

func (api *sessionApi) results(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	res, err := api.svc.Results(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *sessionApi) submit(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	s, err = api.svc.Submit(ctx.Request().Context(), s.ID, exam.ReasonUser)
	if err != nil {
		return err
	}
	api.registry.Detach(s.ID)
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) abandon(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	s, err = api.svc.Abandon(ctx.Request().Context(), s.ID, claims.Subject)
	if err != nil {
		return err
	}
	api.registry.Detach(s.ID)
	return ctx.JSON(http.StatusOK, s)
}

// remainingTime is the countdown resync endpoint; the session deadline is
// authoritative, never the client clock.
func (api *sessionApi) remainingTime(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	now := exam.NowFunc().UTC()
	return ctx.JSON(http.StatusOK, timeResponse{
		RemainingSec: int(s.Remaining(now) / time.Second),
		ServerTime:   now,
	})
}

// trackViolation is the REST fallback for clients without a signal stream.
func (api *sessionApi) trackViolation(ctx echo.Context) error {
	var data violationRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to violationRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	v := exam.Violation{Type: data.Type, Meta: data.Meta}

	// route through the runtime when one is attached so its in-memory count
	// keeps driving the threshold decision
	if rt, ok := api.registry.Get(s.ID); ok {
		return ctx.JSON(http.StatusOK, violationResponse{ViolationCount: rt.ReportViolation(v)})
	}

	count, err := api.svc.TrackViolation(ctx.Request().Context(), s.ID, v)
	if err != nil {
		return err
	}
	if exam.PolicyFor(s.Category).ForcesSubmission(count) {
		if _, err = api.svc.Submit(ctx.Request().Context(), s.ID, exam.ReasonViolationThreshold); err != nil {
			return err
		}
		api.registry.Detach(s.ID)
	}
	return ctx.JSON(http.StatusOK, violationResponse{ViolationCount: count})
}
