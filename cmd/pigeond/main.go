package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pigeon-im/pigeon/internal/app"
	"github.com/pigeon-im/pigeon/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	peerFlag := flag.String("peer", "", "peer id to open a conversation with on startup")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp := fx.New(
		app.Module(app.Params{ProfileName: profileName, Peer: *peerFlag}),
	)

	fxApp.Run()
}
