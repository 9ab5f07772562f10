// Package main runs the resection solver on a JSON request read from a file
// or standard input and prints the JSON response.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/resection"
)

var logger = golog.NewDevelopmentLogger("resect")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	reproject := flags.Bool("reproject", false, "treat the request as a reprojection instead of a solve")
	requestPath := flags.String("request", "-", "path of the request JSON, - for stdin")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	var reqJSON []byte
	var err error
	if *requestPath == "-" {
		reqJSON, err = io.ReadAll(os.Stdin)
	} else {
		reqJSON, err = os.ReadFile(*requestPath)
	}
	if err != nil {
		return errors.Wrap(err, "reading request")
	}

	var respJSON []byte
	if *reproject {
		respJSON, err = resection.ReprojectPointsJSON(reqJSON)
	} else {
		respJSON, err = resection.SolveJSON(ctx, reqJSON, logger)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(respJSON))
	return nil
}
