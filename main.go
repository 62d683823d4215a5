package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"harvester/engine"
	"harvester/engine/config"
	"harvester/engine/db"
	"harvester/www"
	"harvester/www/api"
)

var logLvels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var opts struct {
	logger struct {
		level string
	}
	configPath string
}

func main() {
	// parse command line options
	flag.StringVar(&opts.logger.level, "log-level", "debug", "Set the log level")
	flag.StringVar(&opts.configPath, "config", "./config/event.conf", "Path to the event config")
	flag.Parse()

	logLevel, ok := logLvels[opts.logger.level]
	if !ok {
		log.Fatalf("Invalid log level: %s", opts.logger.level)
	}
	var handler slog.Handler
	handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// load and validate the config
	conf, err := config.NewManager(opts.configPath)
	if err != nil {
		log.Fatalln("Failed to load config:", err)
	}
	if err := conf.WatchConfig(opts.configPath); err != nil {
		log.Fatalln("Failed to watch config:", err)
	}

	db.Connect(conf.Get().RequiredSettings.DBConnectURL)

	if err := db.AddTeams(conf.Get()); err != nil {
		log.Fatalln("Failed to add teams to DB:", err)
	}

	if err := api.InitAuth(conf.Get()); err != nil {
		log.Fatalln("Failed to initialize auth:", err)
	}

	se := engine.NewEngine(conf)

	// start engine, restart if it stops
	go func() {
		for {
			se.Start()
		}
	}()

	// start web server
	router := www.Router{Config: conf, Engine: se}
	router.Start()
}
