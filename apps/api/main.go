package main

import (
	"github.com/smallbiznis/clinicledger/internal/app"
	"go.uber.org/fx"
)

func main() {
	fx.New(app.API()).Run()
}
