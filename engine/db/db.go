package db

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"harvester/engine/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db *gorm.DB
)

func dialector(connectURL string) gorm.Dialector {
	if strings.HasPrefix(connectURL, "sqlite:") {
		split := strings.SplitN(connectURL, ":", 2)
		filename := split[1]
		return sqlite.Open(fmt.Sprintf("%s?mode=rwc", filename))
	} else {
		return postgres.Open(connectURL)
	}
}

func Connect(connectURL string) {
	var err error

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			IgnoreRecordNotFoundError: true, // Ignore ErrRecordNotFound error for logger
		},
	)

	db, err = gorm.Open(dialector(connectURL), &gorm.Config{
		TranslateError: true,
		Logger:         newLogger,
	})
	if err != nil {
		log.Fatalf("Failed to connect database %s: %v", connectURL, err)
	}

	slog.Info("Connected to DB")

	err = db.AutoMigrate(&TeamSchema{}, &FlagSchema{})
	if err != nil {
		log.Fatalln("Failed to auto migrate:", err)
	}
}

// AddTeams seeds the team roster from the config. Existing teams are left
// untouched so restarts keep stable team ids.
func AddTeams(conf *config.ConfigSettings) error {
	for _, team := range conf.Team {
		t := TeamSchema{Name: team.Name}
		result := db.Where(&t).First(&t)
		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				t.Address = team.Address
				if _, err := CreateTeam(t); err != nil {
					return err
				}
			} else {
				return result.Error
			}
		}
	}
	return nil
}
