package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"
)

// DeviceStore keeps the linked-device credentials in a sqlite file. It
// implements domain.CredentialStore; the credential value is a
// *store.Device.
type DeviceStore struct {
	db        *sql.DB
	container *sqlstore.Container
	logger    *slog.Logger
}

// OpenStore opens (creating if needed) the credential database at path.
func OpenStore(path string, logger *slog.Logger) (*DeviceStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create store directory %s: %w", dir, err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	container := sqlstore.NewWithDB(db, "sqlite3", NewLogger(logger, "store"))
	if err := container.Upgrade(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migration failed: %w", err)
	}

	return &DeviceStore{db: db, container: container, logger: logger}, nil
}

// Device returns the stored device, or a fresh unpaired one.
func (s *DeviceStore) Device() (*store.Device, error) {
	dev, err := s.container.GetFirstDevice()
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return dev, nil
}

// Load returns the paired device, or nil when pairing is required.
func (s *DeviceStore) Load(ctx context.Context) (any, error) {
	dev, err := s.Device()
	if err != nil {
		return nil, err
	}
	if dev.ID == nil {
		return nil, nil
	}
	return dev, nil
}

// Save persists creds. Unpaired devices have nothing to persist yet.
func (s *DeviceStore) Save(ctx context.Context, creds any) error {
	dev, ok := creds.(*store.Device)
	if !ok {
		return fmt.Errorf("save credentials: unexpected type %T", creds)
	}
	if dev.ID == nil {
		return nil
	}
	if err := s.container.PutDevice(dev); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Reset deletes the stored device so the next start pairs again.
func (s *DeviceStore) Reset(ctx context.Context) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	if dev.ID == nil {
		return nil
	}
	if err := s.container.DeleteDevice(dev); err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	s.logger.Info("credentials removed", "device", dev.ID.String())
	return nil
}

func (s *DeviceStore) Close() error {
	return s.db.Close()
}
