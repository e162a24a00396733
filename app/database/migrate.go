package database

import "media-scribe/app/model"

func AutoMigrate() error {
	// 自动迁移表结构
	return DB.AutoMigrate(
		&model.User{},
		&model.MediaTask{},
	)
}
