package main

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mtihani/core/exam"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db      *sqlx.DB
	examSvc exam.ServiceInterface
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate up|up-by-one|down|redo|status|version - run database migrations")
	fmt.Println("  expiresessions - force-submit active sessions whose deadline has passed")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "expiresessions":
		return cli.expireSessions()
	default:
		cli.printUsage()
		return errHelp
	}
}
