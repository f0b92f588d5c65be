package config

import (
	"net"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// record is the single-row gorm model persisting the Configuration's
// persisted keys, in the same AutoMigrate-on-open, single-file
// sqlite.Open style as a tracker's database layer, minus the
// file/chunk/client tables this system has no use for.
type record struct {
	ID             uint `gorm:"primaryKey"`
	UseStun        bool
	SignalCompress bool
	FileUnordered  bool
	TransferFast   bool
	TransferStripe bool
	LANIPOverride  bool
	LANIPValue     string
	TURNEnabled    bool
	TURNURL        string
	TURNUsername   string
	TURNCredential string
	TURNForceRelay bool
}

// Store persists a single Configuration row across process invocations.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) the sqlite file at path and migrates
// the record schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Load returns the persisted Configuration, or Default() if no row has
// been saved yet.
func (s *Store) Load() (Configuration, error) {
	var r record
	err := s.db.First(&r, 1).Error
	if err == gorm.ErrRecordNotFound {
		return Default(), nil
	}
	if err != nil {
		return Configuration{}, err
	}
	return recordToConfig(r), nil
}

// Save upserts cfg as the single persisted row (id 1).
func (s *Store) Save(cfg Configuration) error {
	r := configToRecord(cfg)
	r.ID = 1
	return s.db.Save(&r).Error
}

func recordToConfig(r record) Configuration {
	cfg := Configuration{
		UseStun:                  r.UseStun,
		UseCompression:           r.SignalCompress,
		UseUnorderedFileChannels: r.FileUnordered,
		Fast:                     r.TransferFast,
		UseStriping:              r.TransferStripe,
	}
	if r.LANIPOverride {
		if ip := net.ParseIP(r.LANIPValue); ip != nil {
			cfg.LANHostOverride = ip
		}
	}
	if r.TURNEnabled {
		cfg.TURN = &TURNConfig{
			URL:        r.TURNURL,
			User:       r.TURNUsername,
			Credential: r.TURNCredential,
			ForceRelay: r.TURNForceRelay,
		}
	}
	return cfg
}

func configToRecord(cfg Configuration) record {
	r := record{
		UseStun:        cfg.UseStun,
		SignalCompress: cfg.UseCompression,
		FileUnordered:  cfg.UseUnorderedFileChannels,
		TransferFast:   cfg.Fast,
		TransferStripe: cfg.UseStriping,
	}
	if cfg.LANHostOverride != nil {
		r.LANIPOverride = true
		r.LANIPValue = cfg.LANHostOverride.String()
	}
	if cfg.TURN != nil {
		r.TURNEnabled = true
		r.TURNURL = cfg.TURN.URL
		r.TURNUsername = cfg.TURN.User
		r.TURNCredential = cfg.TURN.Credential
		r.TURNForceRelay = cfg.TURN.ForceRelay
	}
	return r
}
