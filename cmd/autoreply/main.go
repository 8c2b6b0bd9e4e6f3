package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/autoreply/internal/config"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/store"
)

var version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" help:"Config file (default: ./autoreply.yaml, then ~/.autoreply/)." env:"AUTOREPLY_CONFIG" type:"path"`
	Debug  bool   `help:"Enable debug logging."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" default:"1" help:"Run the auto-responder."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
	Configs  ConfigCmd   `cmd:"" name:"config" help:"Configuration file helpers."`
	WhatsApp WhatsAppCmd `cmd:"" name:"whatsapp" help:"Pair, unpair or inspect the WhatsApp device."`
	Rules    RulesCmd    `cmd:"" help:"Manage reply rules."`
	Settings SettingsCmd `cmd:"" help:"Show or change bot settings."`
	Messages MessagesCmd `cmd:"" help:"Inspect recorded messages."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("autoreply"),
		kong.Description("Rule-based WhatsApp auto-responder with a generative fallback."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("autoreply %s\n", version)
	return nil
}

// load reads, validates and resolves the configuration and initializes
// logging from it. --debug wins over the configured level.
func (g *Globals) load() (*config.Config, error) {
	cfg, used, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}

	level := ParseLevel(cfg.Logging.Level)
	if g.Debug {
		level = LevelDebug
	}
	InitLogging(&LogConfig{
		Level:      level,
		TimeFormat: "15:04:05",
		ShowCaller: cfg.Logging.ShowCaller,
		Output:     os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if used != "" {
		L_debug("config loaded", "path", used)
	} else {
		L_debug("no config file found, using defaults")
	}
	return cfg, nil
}

// openStore loads config and opens the message/rule database.
func (g *Globals) openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}
