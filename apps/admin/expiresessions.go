package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) expireSessions() error {
	n, err := cli.examSvc.ExpireOverdue(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("expired %d session(s)\n", n)
	return nil
}
