package models

import "gorm.io/datatypes"

const (
	SettingKeyBranding     = "branding"
	SettingKeyIntegrations = "integrations"
)

type AppSetting struct {
	BaseModel
	Key   string            `json:"key" gorm:"type:varchar(100);uniqueIndex;not null"`
	Value datatypes.JSONMap `json:"value"`
}

func (AppSetting) TableName() string {
	return "app_settings"
}
