package main

import (
	"log"
	"os"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	scoringsvc "github.com/trezcool/mtihani/services/scoring"
	"github.com/trezcool/mtihani/storage/database"
	sqlxrepos "github.com/trezcool/mtihani/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(db.Ping())

	// expiresessions submits through the scoring collaborator, so it needs
	// the full service, not just the repository
	appLogger := logsvc.NewConsoleLogger(logger)
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, appLogger)
	}
	examSvc := exam.NewService(
		sqlxrepos.NewSessionRepository(db),
		scoringsvc.NewHTTPService(conf, appLogger),
		nil, /* live */
		mailSvc,
		appLogger,
		conf,
	)

	// start CLI
	cli := commandLine{
		db:      db,
		examSvc: examSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
