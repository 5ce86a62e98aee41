// Package notification delivers operator alerts for position lifecycle
// events. A position reaching FAILED always produces an alert; everything
// else is informational.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"solana-trading-bot/internal/events"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyExit      NotificationType = "exit"
	NotifyFailed    NotificationType = "failed"
	NotifyEmergency NotificationType = "emergency"
	NotifyError     NotificationType = "error"
	NotifyInfo      NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Mint       string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager() *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   true,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendPositionClosed sends a confirmed exit notification
func (m *Manager) SendPositionClosed(mint, reason string, entryPrice, exitPrice, pnlPercent float64) error {
	emoji := "✅"
	if pnlPercent < 0 {
		emoji = "❌"
	}

	return m.Send(&Notification{
		Type:       NotifyExit,
		Title:      fmt.Sprintf("%s Position Closed: %s", emoji, shortMint(mint)),
		Message:    fmt.Sprintf("Entry: %.9f → Exit: %.9f\nPnL: %.2f%%\nReason: %s", entryPrice, exitPrice, pnlPercent, reason),
		Mint:       mint,
		Price:      exitPrice,
		PnLPercent: pnlPercent,
		Timestamp:  time.Now(),
	})
}

// SendPositionFailed sends the mandatory alert for an exit that exhausted
// its retries and needs operator intervention.
func (m *Manager) SendPositionFailed(mint, reason string, attempts int) error {
	return m.Send(&Notification{
		Type:      NotifyFailed,
		Title:     fmt.Sprintf("🚨 Position FAILED: %s", shortMint(mint)),
		Message:   fmt.Sprintf("Exit could not be confirmed after %d attempts.\nTrigger: %s\nManual intervention required.", attempts, reason),
		Mint:      mint,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"reason":   reason,
			"attempts": attempts,
		},
	})
}

// SendEmergencyStop sends an emergency sweep notification
func (m *Manager) SendEmergencyStop(source string, openPositions int) error {
	return m.Send(&Notification{
		Type:      NotifyEmergency,
		Title:     "🛑 EMERGENCY STOP",
		Message:   fmt.Sprintf("Exiting all %d open positions.\nRequested by: %s", openPositions, source),
		Timestamp: time.Now(),
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// BindEventBus subscribes the manager to the lifecycle events that warrant
// operator alerts.
func (m *Manager) BindEventBus(bus *events.EventBus) {
	bus.Subscribe(events.EventPositionClosed, func(e events.Event) {
		mint, _ := e.Data["mint"].(string)
		reason, _ := e.Data["reason"].(string)
		entry, _ := e.Data["entry_price"].(float64)
		exit, _ := e.Data["exit_price"].(float64)
		pnl, _ := e.Data["pnl_percent"].(float64)
		_ = m.SendPositionClosed(mint, reason, entry, exit, pnl)
	})
	bus.Subscribe(events.EventPositionFailed, func(e events.Event) {
		mint, _ := e.Data["mint"].(string)
		reason, _ := e.Data["reason"].(string)
		attempts, _ := e.Data["attempts"].(int)
		_ = m.SendPositionFailed(mint, reason, attempts)
	})
	bus.Subscribe(events.EventEmergencyStop, func(e events.Event) {
		source, _ := e.Data["source"].(string)
		open, _ := e.Data["open_positions"].(int)
		_ = m.SendEmergencyStop(source, open)
	})
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	// Create Discord embed
	color := 0x00FF00 // Green
	if notification.Type == NotifyError || notification.Type == NotifyFailed || notification.Type == NotifyEmergency {
		color = 0xFF0000 // Red
	} else if notification.Type == NotifyExit && notification.PnLPercent < 0 {
		color = 0xFF0000 // Red
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	// Add fields if available
	if notification.Mint != "" {
		fields := []map[string]interface{}{
			{"name": "Mint", "value": notification.Mint, "inline": true},
		}
		if notification.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Exit Price", "value": fmt.Sprintf("%.9f", notification.Price), "inline": true,
			})
		}
		if notification.PnLPercent != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "PnL", "value": fmt.Sprintf("%.2f%%", notification.PnLPercent), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
