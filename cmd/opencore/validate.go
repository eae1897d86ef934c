package main

import (
	"fmt"
	"io"

	"github.com/Quackstro/opencore-sub001/internal/loader"
)

// errInvalidDefinitions makes validate exit non-zero after printing every problem.
var errInvalidDefinitions = fmt.Errorf("invalid workflow definitions")

// validate checks every definition file in dir and prints one line per problem.
func validate(dir string, out io.Writer) error {
	files, problems, err := loader.ValidateDir(dir)
	if err != nil {
		return err
	}
	for _, p := range problems {
		for _, issue := range p.Issues {
			fmt.Fprintf(out, "%s: %s\n", p.Path, issue)
		}
	}
	fmt.Fprintf(out, "%d file(s) checked, %d invalid\n", len(files), len(problems))
	if len(problems) > 0 {
		return errInvalidDefinitions
	}
	return nil
}
