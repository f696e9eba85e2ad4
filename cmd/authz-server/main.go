// Command authz-server runs the authorization server and its maintenance
// commands.
package main

import (
	"os"

	"github.com/giantswarm/oauth-authz/cmd/authz-server/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
