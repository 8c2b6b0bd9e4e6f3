package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roelfdiedericks/autoreply/internal/channels/whatsapp"
	"github.com/roelfdiedericks/autoreply/internal/config"
	"github.com/roelfdiedericks/autoreply/internal/paths"
	"github.com/roelfdiedericks/autoreply/internal/rules"
	"github.com/roelfdiedericks/autoreply/internal/store"
)

// ConfigCmd groups config file helpers.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a default config file."`
}

// ConfigInitCmd writes the default config.
type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Target path (default: ~/.autoreply/autoreply.yaml)."`
	Force bool   `help:"Overwrite an existing file (a backup is kept)."`
}

func (c *ConfigInitCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		var err error
		if path, err = paths.DefaultConfigPath(); err != nil {
			return err
		}
	}
	if err := config.Init(path, c.Force); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// WhatsAppCmd groups device pairing commands.
type WhatsAppCmd struct {
	Link   WhatsAppLinkCmd   `cmd:"" help:"Pair this responder with a phone by QR code."`
	Unlink WhatsAppUnlinkCmd `cmd:"" help:"Remove the stored session; the next run needs pairing."`
	Status WhatsAppStatusCmd `cmd:"" help:"Show pairing status."`
}

type WhatsAppLinkCmd struct{}

func (c *WhatsAppLinkCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	return whatsapp.LinkDevice(context.Background(), cfg.WhatsApp.SessionPath, os.Stdout)
}

type WhatsAppUnlinkCmd struct{}

func (c *WhatsAppUnlinkCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	removed, err := whatsapp.UnlinkDevice(context.Background(), cfg.WhatsApp.SessionPath)
	for _, d := range removed {
		fmt.Printf("Removed device: %s\n", d.JID)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("No paired devices found.")
		return nil
	}
	fmt.Println("Session cleared. Run 'autoreply whatsapp link' to pair again.")
	return nil
}

type WhatsAppStatusCmd struct{}

func (c *WhatsAppStatusCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	devices, err := whatsapp.DeviceStatus(context.Background(), cfg.WhatsApp.SessionPath)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("Status: not paired")
		fmt.Println("Run 'autoreply whatsapp link' to pair a device.")
		return nil
	}
	fmt.Println("Status: paired")
	for _, d := range devices {
		fmt.Printf("  JID: %s\n", d.JID)
	}
	return nil
}

// SettingsCmd groups bot settings commands.
type SettingsCmd struct {
	Show SettingsShowCmd `cmd:"" help:"Print the current settings."`
	Set  SettingsSetCmd  `cmd:"" help:"Change settings; omitted flags keep their value."`
}

type SettingsShowCmd struct{}

func (c *SettingsShowCmd) Run(g *Globals) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cur, err := currentSettings(context.Background(), st)
	if err != nil {
		return err
	}
	fmt.Println(renderSettings(cur))
	return nil
}

type SettingsSetCmd struct {
	Bot      string `help:"Master switch: on|off."`
	Personal string `help:"Reply in personal chats: on|off."`
	Groups   string `help:"Reply in group chats: on|off."`
	Sleep    string `help:"Quiet hours as HH:MM-HH:MM, or 'off'."`
	Timezone string `help:"IANA zone for quiet hours and time rules, or 'none' to use the server default."`
}

func (c *SettingsSetCmd) Run(g *Globals) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	cur, err := currentSettings(ctx, st)
	if err != nil {
		return err
	}
	next, err := c.apply(cur)
	if err != nil {
		return err
	}
	if err := st.SaveSettings(ctx, next); err != nil {
		return err
	}
	fmt.Println(renderSettings(next))
	return nil
}

// apply returns cur with the given flags applied.
func (c *SettingsSetCmd) apply(cur rules.Settings) (rules.Settings, error) {
	for _, sw := range []struct {
		name string
		raw  string
		dst  *bool
	}{
		{"bot", c.Bot, &cur.BotEnabled},
		{"personal", c.Personal, &cur.ReplyToPersonalChats},
		{"groups", c.Groups, &cur.ReplyToGroupChats},
	} {
		if sw.raw == "" {
			continue
		}
		v, err := parseSwitch(sw.raw)
		if err != nil {
			return cur, fmt.Errorf("--%s: %w", sw.name, err)
		}
		*sw.dst = v
	}

	if c.Sleep != "" {
		start, end, err := parseSleep(c.Sleep)
		if err != nil {
			return cur, fmt.Errorf("--sleep: %w", err)
		}
		cur.SleepStart, cur.SleepEnd = start, end
	}

	switch c.Timezone {
	case "":
	case "none":
		cur.Timezone = ""
	default:
		cur.Timezone = c.Timezone
	}
	return cur, store.ValidateSettings(cur)
}

func currentSettings(ctx context.Context, st *store.SQLiteStore) (rules.Settings, error) {
	cur, err := st.GetSettings(ctx)
	if err != nil {
		return rules.Settings{}, err
	}
	if cur == nil {
		return rules.DefaultSettings(), nil
	}
	return *cur, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

// parseSleep accepts "HH:MM-HH:MM" or "off".
func parseSleep(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "off") {
		return "", "", nil
	}
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return "", "", errors.New("want HH:MM-HH:MM or off")
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	for _, v := range []string{start, end} {
		if _, err := rules.ParseClock(v); err != nil {
			return "", "", err
		}
	}
	return start, end, nil
}

// MessagesCmd groups message history commands.
type MessagesCmd struct {
	Tail MessagesTailCmd `cmd:"" help:"Show the most recent messages."`
}

type MessagesTailCmd struct {
	Chat   string        `help:"Only this chat id."`
	Limit  int           `short:"n" default:"20" help:"Number of messages."`
	Follow bool          `short:"f" help:"Keep printing new messages."`
	Every  time.Duration `default:"2s" help:"Poll interval with --follow."`
}

func (c *MessagesTailCmd) Run(g *Globals) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	msgs, err := st.ListMessages(ctx, store.MessageQuery{ChatID: c.Chat, Limit: c.Limit})
	if err != nil {
		return err
	}
	if len(msgs) == 0 && !c.Follow {
		fmt.Println("No messages recorded.")
		return nil
	}
	chronological(msgs)
	if len(msgs) > 0 {
		fmt.Println(renderMessages(msgs))
	}
	if !c.Follow {
		return nil
	}

	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = true
	}
	ticker := time.NewTicker(c.Every)
	defer ticker.Stop()
	for range ticker.C {
		latest, err := st.ListMessages(ctx, store.MessageQuery{ChatID: c.Chat, Limit: 50})
		if err != nil {
			return err
		}
		chronological(latest)
		var fresh []store.Message
		for _, m := range latest {
			if !seen[m.ID] {
				seen[m.ID] = true
				fresh = append(fresh, m)
			}
		}
		if len(fresh) > 0 {
			fmt.Println(renderMessages(fresh))
		}
	}
	return nil
}

// chronological reverses the newest-first listing in place.
func chronological(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
