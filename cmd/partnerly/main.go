package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/partnerly/partnerly/internal/clock"
	"github.com/partnerly/partnerly/internal/config"
	"github.com/partnerly/partnerly/internal/migration"
	"github.com/partnerly/partnerly/internal/observability"
	"github.com/partnerly/partnerly/internal/scheduler"
	"github.com/partnerly/partnerly/internal/server"
	"github.com/partnerly/partnerly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
