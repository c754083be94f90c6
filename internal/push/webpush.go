package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"lifeflow/internal/domain"
)

// SubscriptionSource resolves a user to their registered push subscriptions.
type SubscriptionSource interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

type Config struct {
	Subscriber      string `yaml:"subscriber"` // mailto: contact for VAPID
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
	RatePerSec      int    `yaml:"rate_per_sec"`
}

func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// WebPush delivers notifications over the Web Push protocol to every
// subscription a user has registered. Delivery is best effort: individual
// endpoint failures are logged, and an error is returned only when no
// endpoint accepted the message.
type WebPush struct {
	subs    SubscriptionSource
	cfg     Config
	limiter *rate.Limiter
}

func NewWebPush(cfg Config, subs SubscriptionSource) *WebPush {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &WebPush{subs: subs, cfg: cfg, limiter: rate.NewLimiter(rate.Limit(rps), rps)}
}

func (w *WebPush) Send(ctx context.Context, userID, title, body, link string) error {
	subs, err := w.subs.ListPushSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		log.Debug().Str("user_id", userID).Msg("no push subscriptions, dropping notification")
		return nil
	}

	payload, err := json.Marshal(map[string]string{"title": title, "body": body, "link": link})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var lastErr error
	delivered := 0
	for _, sub := range subs {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
		}, &webpush.Options{
			Subscriber:      w.cfg.Subscriber,
			VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
			TTL:             w.cfg.TTL,
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("user_id", userID).Msg("web push send failed")
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// The browser dropped this subscription; forget it.
			resp.Body.Close()
			if err := w.subs.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				log.Warn().Err(err).Msg("prune dead push subscription")
			}
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("push endpoint returned %d", resp.StatusCode)
			log.Warn().Int("status", resp.StatusCode).Str("user_id", userID).Msg("web push rejected")
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Nop is a Sender that drops everything. Used when VAPID keys are not
// configured and in tests.
type Nop struct{}

func (Nop) Send(_ context.Context, userID, title, _, _ string) error {
	log.Debug().Str("user_id", userID).Str("title", title).Msg("push disabled, notification dropped")
	return nil
}
