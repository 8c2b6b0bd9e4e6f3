package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ErrNoSession is returned when the session database does not exist.
var ErrNoSession = errors.New("no whatsapp session")

// DeviceInfo describes a paired device in the session store.
type DeviceInfo struct {
	JID string
}

// LinkDevice pairs a fresh device by QR code, drawing codes to out. Stale
// devices are removed first so the responder never resumes a revoked session.
func LinkDevice(ctx context.Context, sessionPath string, out io.Writer) error {
	db, container, err := openContainer(ctx, sessionPath)
	if err != nil {
		return err
	}
	defer db.Close()

	stale, err := container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list existing devices: %w", err)
	}
	for _, d := range stale {
		fmt.Fprintf(out, "Removing stale device: %s\n", deviceJID(d.ID))
		_ = d.Delete(ctx)
	}

	client := whatsmeow.NewClient(container.NewDevice(), newLogger("link"))

	// "success" only means the scan was accepted; Connected marks the end of
	// the initial sync.
	connected := make(chan struct{}, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	fmt.Fprintln(out, "Scan the QR code with WhatsApp > Settings > Linked Devices > Link a Device")

	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			fmt.Fprintln(out)
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, out)
			fmt.Fprintln(out, "Waiting for scan...")
		case "success":
			fmt.Fprintln(out, "Scan accepted, completing initial sync...")
			select {
			case <-connected:
			case <-time.After(30 * time.Second):
				return fmt.Errorf("timed out waiting for initial sync, try again")
			case <-ctx.Done():
				return ctx.Err()
			}
			fmt.Fprintf(out, "Paired: %s\n", client.Store.ID)
			return nil
		case "timeout":
			return fmt.Errorf("QR code expired, run the command again")
		default:
			return fmt.Errorf("pairing failed: %s", item.Event)
		}
	}
	return fmt.Errorf("QR channel closed unexpectedly")
}

// UnlinkDevice deletes every stored device; the next start requires pairing.
func UnlinkDevice(ctx context.Context, sessionPath string) ([]DeviceInfo, error) {
	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w (no %s)", ErrNoSession, sessionPath)
	}
	db, container, err := openContainer(ctx, sessionPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var removed []DeviceInfo
	for _, d := range devices {
		jid := deviceJID(d.ID)
		if err := d.Delete(ctx); err != nil {
			return removed, fmt.Errorf("failed to delete device %s: %w", jid, err)
		}
		removed = append(removed, DeviceInfo{JID: jid})
	}
	return removed, nil
}

// DeviceStatus lists paired devices. A missing session file yields none.
func DeviceStatus(ctx context.Context, sessionPath string) ([]DeviceInfo, error) {
	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		return nil, nil
	}
	db, container, err := openContainer(ctx, sessionPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, DeviceInfo{JID: deviceJID(d.ID)})
	}
	return infos, nil
}

func deviceJID(id *types.JID) string {
	if id == nil {
		return "(unknown)"
	}
	return id.String()
}
