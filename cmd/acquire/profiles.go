package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func printf(c *cli.Context, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format, a...)
}

// ListProfilesAction prints every stored profile.
func ListProfilesAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	current := env.store.Current()
	for _, name := range env.store.Profiles() {
		marker := " "
		if name == current {
			marker = "*"
		}
		printf(c, "%s %s\n", marker, name)
	}
	if id := env.store.SessionID(); id != "" {
		printf(c, "session id: %s\n", id)
	}
	return nil
}

// ShowProfileAction prints the acquisition config of the named or current profile as JSON.
func ShowProfileAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	name := c.Args().First()
	if name == "" {
		name = env.store.Current()
	}
	cfg, err := env.store.AcquisitionConfig(name)
	if err != nil {
		return errors.Wrapf(err, "profile %q", name)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	printf(c, "%s\n", out)
	return nil
}

// UseProfileAction makes a profile current. A running service picks the change up.
func UseProfileAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one profile name")
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()
	return env.store.SetCurrent(c.Args().First())
}
