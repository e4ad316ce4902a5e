package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/fx"

	"github.com/Syam916/chitrasethu-sub002/internal/daemon"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name (one daemon per profile)")
	flag.Parse()

	profile := *profileFlag
	if err := validateProfile(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile}),
	)

	app.Run()
}

func validateProfile(name string) error {
	if name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if strings.ContainsAny(name, "/\\ ") {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}
