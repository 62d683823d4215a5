package db

import (
	"errors"

	"gorm.io/gorm"
)

type TeamSchema struct {
	ID      uint
	Name    string       `gorm:"unique"`
	Address string       // network address flags from this team trace back to
	Flags   []FlagSchema `gorm:"foreignKey:TeamID"` // get flags who belong to this team
}

func CreateTeam(team TeamSchema) (TeamSchema, error) {
	result := db.Table("team_schemas").Create(&team)
	if result.Error != nil {
		return TeamSchema{}, result.Error
	}
	return team, nil
}

func GetTeams() ([]TeamSchema, error) {
	var teams []TeamSchema
	result := db.Table("team_schemas").Order("id").Find(&teams)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return teams, nil
		} else {
			return nil, result.Error
		}
	}
	return teams, nil
}

func CountTeams() (int64, error) {
	var c int64
	if result := db.Table("team_schemas").Count(&c); result.Error != nil {
		return 0, result.Error
	}
	return c, nil
}
