package cmd

import (
	"github.com/achilleasa/go-rtcore/log"
	"github.com/urfave/cli"
)

var logger = log.New("rtcore")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
