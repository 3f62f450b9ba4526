package app

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/deckview/internal/build"
	"github.com/roasbeef/deckview/internal/db"
	"github.com/roasbeef/deckview/internal/deckapi"
	"github.com/roasbeef/deckview/internal/deckcache"
	"github.com/roasbeef/deckview/internal/mcp"
	"github.com/roasbeef/deckview/internal/playback"
	"github.com/roasbeef/deckview/internal/session"
	"github.com/roasbeef/deckview/internal/viewer"
)

// subsystems maps every subsystem tag to its UseLogger.
var subsystems = map[string]func(btclog.Logger){
	Subsystem:           UseLogger,
	db.Subsystem:        db.UseLogger,
	deckapi.Subsystem:   deckapi.UseLogger,
	deckcache.Subsystem: deckcache.UseLogger,
	mcp.Subsystem:       mcp.UseLogger,
	playback.Subsystem:  playback.UseLogger,
	session.Subsystem:   session.UseLogger,
	viewer.Subsystem:    viewer.UseLogger,
}

// SetupLoggers hands every subsystem its logger from m.
func SetupLoggers(m *build.LogManager) {
	for tag, use := range subsystems {
		use(m.SubLogger(tag))
	}
}
