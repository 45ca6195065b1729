// Package notification delivers user-facing alerts through shoutrrr
// service URLs. Delivery is fire and forget: send failures are logged and
// never escalate to the caller.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/logging"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("notification")
}

// Notifier is the narrow interface the pipeline and schedulers depend on.
type Notifier interface {
	// NotifyNewSpecies announces a lifer: the first-ever sighting of a
	// species.
	NotifyNewSpecies(ctx context.Context, species string, confidence *float64, imagePath string) error
	// NotifyHealthAlert tells the operator the pipeline has been failing
	// for a sustained period.
	NotifyHealthAlert(ctx context.Context, message string) error
	// NotifySummary delivers a periodic sighting digest.
	NotifySummary(ctx context.Context, text string) error
}

// ShoutrrrNotifier sends via nicholas-fedor/shoutrrr. A single sender is
// built for all configured URLs.
type ShoutrrrNotifier struct {
	sender  *router.ServiceRouter
	timeout time.Duration
}

// New creates a Notifier from the configured shoutrrr URLs. With no URLs
// configured a no-op notifier is returned.
func New(settings *conf.Settings) (Notifier, error) {
	if len(settings.Notify.URLs) == 0 {
		logger.Warn("no notification URLs configured, notifications disabled")
		return &NoopNotifier{}, nil
	}

	sender, err := shoutrrr.CreateSender(settings.Notify.URLs...)
	if err != nil {
		return nil, fmt.Errorf("creating notification sender: %w", err)
	}

	timeout := time.Duration(settings.Notify.Timeout) * time.Second
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrNotifier{
		sender:  sender,
		timeout: timeout,
	}, nil
}

// NotifyNewSpecies announces a lifer with the keyshot attached when one is
// available on disk.
func (n *ShoutrrrNotifier) NotifyNewSpecies(ctx context.Context, species string, confidence *float64, imagePath string) error {
	pct := 0
	if confidence != nil {
		pct = int(*confidence * 100)
	}
	message := fmt.Sprintf("NEW LIFER: %s! (%d%%)", species, pct)

	var params *stypes.Params
	if imagePath != "" {
		if _, err := os.Stat(imagePath); err == nil {
			params = &stypes.Params{"attachment": imagePath}
		}
	}

	n.send(message, params)
	return nil
}

// NotifyHealthAlert tells the operator about a sustained pipeline outage.
func (n *ShoutrrrNotifier) NotifyHealthAlert(ctx context.Context, message string) error {
	n.send("FreeBird error: "+message, nil)
	return nil
}

// NotifySummary delivers a periodic digest.
func (n *ShoutrrrNotifier) NotifySummary(ctx context.Context, text string) error {
	n.send(text, nil)
	return nil
}

// send dispatches to all configured services, logging per-service failures.
func (n *ShoutrrrNotifier) send(message string, params *stypes.Params) {
	errs := n.sender.Send(message, params)
	for _, err := range errs {
		if err != nil {
			logger.Error("notification send failed", "error", err)
		}
	}
}

// NoopNotifier drops all notifications. Used when delivery is unconfigured
// and in tests.
type NoopNotifier struct{}

func (*NoopNotifier) NotifyNewSpecies(ctx context.Context, species string, confidence *float64, imagePath string) error {
	return nil
}

func (*NoopNotifier) NotifyHealthAlert(ctx context.Context, message string) error {
	return nil
}

func (*NoopNotifier) NotifySummary(ctx context.Context, text string) error {
	return nil
}
