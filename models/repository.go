package models

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// VisitCacheKey is the Redis key of a mirrored visit.
func VisitCacheKey(visitID string) string {
	return "visit:" + visitID
}

// Repository is the relational mirror of the CSV store, fed by the visit
// event consumer. The CSV file stays the source of truth.
type Repository interface {
	SaveVisit(visit *Visit) error
	DeleteVisits(visitIDs []string) error
	GetVisitByID(id string) (*Visit, error)
	ListClientVisits(clientID string) ([]Visit, error)
	Close() error
}

type PostgresRepository struct {
	db *gorm.DB
}

// PostgresConfig holds the connection settings of the mirror database.
type PostgresConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port,
	)
}

func NewPostgresRepository(cfg PostgresConfig) (*PostgresRepository, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormRepository(db)
}

// NewGormRepository wraps an already opened connection and migrates the schema.
func NewGormRepository(db *gorm.DB) (*PostgresRepository, error) {
	if err := db.AutoMigrate(&Visit{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// SaveVisit inserts the row or overwrites the one with the same visit id,
// so replayed events are harmless.
func (r *PostgresRepository) SaveVisit(visit *Visit) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "visit_id"}},
		UpdateAll: true,
	}).Create(visit).Error
}

func (r *PostgresRepository) DeleteVisits(visitIDs []string) error {
	if len(visitIDs) == 0 {
		return nil
	}
	return r.db.Where("visit_id IN ?", visitIDs).Delete(&Visit{}).Error
}

func (r *PostgresRepository) GetVisitByID(id string) (*Visit, error) {
	var visit Visit
	if err := r.db.First(&visit, "visit_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &visit, nil
}

func (r *PostgresRepository) ListClientVisits(clientID string) ([]Visit, error) {
	var visits []Visit
	err := r.db.Where("client_id = ?", clientID).Order("date DESC").Find(&visits).Error
	if err != nil {
		return nil, err
	}
	return visits, nil
}

func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
