package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
)

// Device is an opened device store with the device to log in with.
type Device struct {
	Container *sqlstore.Container
	Store     *store.Device
	// Record is the session record read at startup, nil before the first pairing.
	Record *SessionRecord
}

// Close releases the device store.
func (d *Device) Close() error {
	if d == nil || d.Container == nil {
		return nil
	}
	return d.Container.Close()
}

// OpenDevice creates the session folder, reads the session record and opens
// the device store. A corrupt session record is fatal.
func OpenDevice(ctx context.Context, cfg *coreconfig.Config) (*Device, error) {
	wa := cfg.WhatsApp
	if err := os.MkdirAll(wa.SessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("whatsapp: create session dir: %w", err)
	}
	rec, err := ReadSession(cfg.SessionPath())
	if err != nil {
		return nil, fmt.Errorf("whatsapp: %w", err)
	}

	container, err := sqlstore.New(ctx, wa.StoreDriver, wa.StoreDSN, newClientLogger("store"))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store (%s): %w", wa.StoreDriver, err)
	}

	var device *store.Device
	if rec != nil && rec.JID != "" {
		jid, perr := types.ParseJID(rec.JID)
		if perr == nil {
			device, err = container.GetDevice(ctx, jid)
		}
		if perr != nil || err != nil || device == nil {
			logger.WA.LogAttrs(ctx, slog.LevelWarn, "session.device_missing",
				slog.String("jid", rec.JID),
				slog.String("reason", "falling back to the first stored device"),
			)
		}
	}
	if device == nil {
		if device, err = container.GetFirstDevice(ctx); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("whatsapp: load device: %w", err)
		}
	}

	attrs := []slog.Attr{
		slog.String("driver", wa.StoreDriver),
		slog.Bool("paired", device.ID != nil),
	}
	if device.ID != nil {
		attrs = append(attrs, slog.String("jid", device.ID.String()))
	}
	logger.WA.LogAttrs(ctx, slog.LevelInfo, "session.open", attrs...)
	return &Device{Container: container, Store: device, Record: rec}, nil
}
