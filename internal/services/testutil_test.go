package services

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/hourse/backend/internal/database"
	"github.com/hourse/backend/internal/models"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "services.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed opening sqlite database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating models: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func createServiceTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email, DisplayName: email, Role: models.UserRoleUser}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", email, err)
	}
	return user
}

// createServiceTestFamily makes owner the family owner and adds members.
func createServiceTestFamily(t *testing.T, db *gorm.DB, owner *models.User, members ...*models.User) *models.Family {
	t.Helper()
	family := &models.Family{Name: "Family " + uuid.NewString()[:8], CreatedByID: owner.ID}
	if err := db.Create(family).Error; err != nil {
		t.Fatalf("failed creating family: %v", err)
	}

	rows := []models.FamilyMember{{FamilyID: family.ID, UserID: owner.ID, Role: models.FamilyRoleOwner}}
	for _, m := range members {
		rows = append(rows, models.FamilyMember{FamilyID: family.ID, UserID: m.ID, Role: models.FamilyRoleMember})
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("failed creating family members: %v", err)
	}
	return family
}
