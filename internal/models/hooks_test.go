package models

import (
	"path/filepath"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "models.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&SecurityEvent{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func TestSecurityEvent_Immutable(t *testing.T) {
	db := setupTestDB(t)
	ev := &SecurityEvent{
		UUID:      "5f0c6f3e-0d6f-4b8e-9d0e-3c1f1d1a2b3c",
		Action:    ActionManualEntry,
		IPAddress: "192.0.2.1",
		RiskLevel: RiskLow,
		Details:   datatypes.JSON("{}"),
	}
	if err := db.Create(ev).Error; err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := db.Model(ev).Update("risk_level", RiskCritical).Error; err != ErrEventImmutable {
		t.Fatalf("update err = %v; want ErrEventImmutable", err)
	}
	if err := db.Delete(ev).Error; err != ErrEventImmutable {
		t.Fatalf("delete err = %v; want ErrEventImmutable", err)
	}

	var got SecurityEvent
	if err := db.First(&got, ev.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got.RiskLevel != RiskLow {
		t.Fatalf("risk level changed to %s", got.RiskLevel)
	}
}

func TestRiskLevel_Rank(t *testing.T) {
	order := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i, r := range order {
		if r.Rank() != i+1 || !r.Valid() {
			t.Fatalf("%s: rank %d valid %v", r, r.Rank(), r.Valid())
		}
	}
	if RiskLevel("low").Valid() {
		t.Fatal("levels are case sensitive")
	}
}

func TestEventAction_Valid(t *testing.T) {
	if !ActionAutoBlock.Valid() || EventAction("teleport").Valid() {
		t.Fatal("unexpected action validity")
	}
}
