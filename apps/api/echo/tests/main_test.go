package tests

import (
	"log"
	"os"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/proctor"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	scoringsvc "github.com/trezcool/mtihani/services/scoring"
	inmemdb "github.com/trezcool/mtihani/storage/database/inmem"
	testutil "github.com/trezcool/mtihani/tests"
)

var (
	conf     *core.Config
	app      *Server
	repo     testutil.SeededRepository
	scorer   *scoringsvc.DummyService
	examSvc  *exam.Service
	registry *proctor.Registry

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func TestMain(m *testing.M) {
	conf = testutil.NewTestConfig()

	// set up store & repos
	repo = inmemdb.NewSessionRepository(inmemdb.NewDB())

	// set up services
	scorer = scoringsvc.NewDummyService()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	logger := logsvc.NewConsoleLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags))
	examSvc = exam.NewService(repo, scorer, testutil.NewFakeLiveStore(), mailSvc, logger, conf)
	registry = proctor.NewRegistry(examSvc, logger, conf)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	exam.InitValidators(validate, translator)

	// set up server
	app = NewServer(
		ServerDeps{
			Conf:       conf,
			Logger:     logger,
			ExamSvc:    examSvc,
			Registry:   registry,
			Validate:   validate,
			Translator: translator,
		},
	)

	// run tests
	code := m.Run()

	// clean up
	registry.Shutdown()
	os.Exit(code)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
